package texts

import (
	"bytes"
	"strings"
	"testing"
)

func TestLookupBounds(t *testing.T) {
	l := NewLines("a", "b")
	if s, ok := Lookup(l, 1); !ok || s != "b" {
		t.Errorf("Lookup(1) = %q, %v", s, ok)
	}
	for _, i := range []int{-1, 2, 100} {
		if _, ok := Lookup(l, i); ok {
			t.Errorf("Lookup(%d) should be out of range", i)
		}
	}
	if _, ok := Lookup(nil, 0); ok {
		t.Error("Lookup on nil table should miss")
	}
}

func TestSetTextGrows(t *testing.T) {
	l := NewLines("a")
	l.SetText(3, "d")
	if l.Len() != 4 || l.Text(3) != "d" || l.Text(2) != "" {
		t.Errorf("after SetText: %q", l.entries)
	}
}

func TestReadWriteEscapes(t *testing.T) {
	l := NewLines("line one\nline two", `back\slash`, "")
	var buf bytes.Buffer
	if err := l.Write(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := Read(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 3 || got.Text(0) != "line one\nline two" || got.Text(1) != `back\slash` {
		t.Errorf("round trip = %q", got.entries)
	}
}
