// Package texts provides the string table that message instructions index.
package texts

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Table is a read-only indexed string table.
type Table interface {
	Len() int
	Text(i int) string
}

// Mutable is a Table that compilation can write message text into.
type Mutable interface {
	Table
	SetText(i int, s string)
}

// Lines is an in-memory table, one entry per line when stored on disk.
type Lines struct {
	entries []string
}

// NewLines creates a table from entries.
func NewLines(entries ...string) *Lines {
	return &Lines{entries: append([]string(nil), entries...)}
}

// Len returns the number of entries.
func (l *Lines) Len() int { return len(l.entries) }

// Text returns entry i. Callers check bounds with Len.
func (l *Lines) Text(i int) string { return l.entries[i] }

// SetText stores s at i, growing the table with empty entries when i is past
// the end.
func (l *Lines) SetText(i int, s string) {
	for len(l.entries) <= i {
		l.entries = append(l.entries, "")
	}
	l.entries[i] = s
}

// Lookup returns entry i when it is in range.
func Lookup(t Table, i int) (string, bool) {
	if t == nil || i < 0 || i >= t.Len() {
		return "", false
	}
	return t.Text(i), true
}

var escaper = strings.NewReplacer("\\", "\\\\", "\n", "\\n")

// Read parses a line table. "\n" and "\\" escapes are expanded.
func Read(r io.Reader) (*Lines, error) {
	l := &Lines{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		l.entries = append(l.entries, unescape(strings.TrimSuffix(sc.Text(), "\r")))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("text table: %w", err)
	}
	return l, nil
}

// Write stores the table one escaped entry per line.
func (l *Lines) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, e := range l.entries {
		if _, err := bw.WriteString(escaper.Replace(e) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Load reads a line table from a file.
func Load(path string) (*Lines, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Save writes a line table to a file.
func (l *Lines) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := l.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func unescape(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
