// Package manifest handles fieldscript.toml project configuration.
package manifest

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/chazu/fieldscript/isa"
	"github.com/chazu/fieldscript/script"
	"github.com/chazu/fieldscript/texts"
)

// FileName is the manifest file looked for in a project directory.
const FileName = "fieldscript.toml"

// Manifest represents a fieldscript.toml project configuration.
type Manifest struct {
	Project   Project          `toml:"project"`
	Commands  Commands         `toml:"commands"`
	Scripts   Scripts          `toml:"scripts"`
	Variables map[string]int64 `toml:"variables"`
	Flags     map[string]int64 `toml:"flags"`
	Text      Text             `toml:"text"`

	// Dir is the directory containing the fieldscript.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
}

// Commands locates the instruction-set sources. Files are loaded in order,
// later files overriding earlier ones. An empty list loads every .json and
// .toml file in Dir, sorted by name.
type Commands struct {
	Dir   string   `toml:"dir"`
	Files []string `toml:"files"`
}

// Scripts configures routine numbering.
type Scripts struct {
	ScriptStart   int `toml:"script-start"`
	FunctionStart int `toml:"function-start"`
}

// Text names the string table used for message annotations.
type Text struct {
	File string `toml:"file"`
}

// Load parses a fieldscript.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Commands.Dir == "" {
		m.Commands.Dir = "commands"
	}
	if m.Scripts.ScriptStart == 0 {
		m.Scripts.ScriptStart = 1
	}
	if m.Scripts.FunctionStart == 0 {
		m.Scripts.FunctionStart = 1
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a fieldscript.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// CommandPaths returns absolute paths of the instruction-set sources in load
// order.
func (m *Manifest) CommandPaths() ([]string, error) {
	dir := filepath.Join(m.Dir, m.Commands.Dir)
	if len(m.Commands.Files) > 0 {
		paths := make([]string, len(m.Commands.Files))
		for i, f := range m.Commands.Files {
			paths[i] = filepath.Join(dir, f)
		}
		return paths, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot list %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".toml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Registry loads the instruction set.
func (m *Manifest) Registry() (*isa.Registry, error) {
	paths, err := m.CommandPaths()
	if err != nil {
		return nil, err
	}
	reg := isa.NewRegistry()
	for _, p := range paths {
		if err := reg.LoadFile(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Names builds the variable and flag naming table.
func (m *Manifest) Names() (*script.Names, error) {
	names := script.NewNames()
	for _, name := range sortedKeys(m.Variables) {
		id, err := refID(names, "variable", name, m.Variables[name])
		if err != nil {
			return nil, err
		}
		names.DefineVar(name, id)
	}
	for _, name := range sortedKeys(m.Flags) {
		id, err := refID(names, "flag", name, m.Flags[name])
		if err != nil {
			return nil, err
		}
		names.DefineFlag(name, id)
	}
	return names, nil
}

// TextPath returns the absolute path of the string table, or "" when none
// is configured.
func (m *Manifest) TextPath() string {
	if m.Text.File == "" {
		return ""
	}
	return filepath.Join(m.Dir, m.Text.File)
}

// Texts loads the configured string table. It returns nil when none is
// configured.
func (m *Manifest) Texts() (*texts.Lines, error) {
	path := m.TextPath()
	if path == "" {
		return nil, nil
	}
	return texts.Load(path)
}

// refID checks a configured id and that name is not already taken by an
// earlier entry or a var_/flag_ name.
func refID(names *script.Names, kind, name string, v int64) (uint16, error) {
	if v < 0 || v > math.MaxUint16 {
		return 0, fmt.Errorf("%s %s: id %d out of range", kind, name, v)
	}
	if names.IsRefName(name) {
		return 0, fmt.Errorf("%s %s: name already in use", kind, name)
	}
	return uint16(v), nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
