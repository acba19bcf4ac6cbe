package isa

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ---------------------------------------------------------------------------
// Instruction-set sources
// ---------------------------------------------------------------------------

// movementsKey names the sub-map holding the movement registry.
const movementsKey = "movements"

// sourceEntry is one opcode entry of an instruction-set source.
type sourceEntry struct {
	Name        string     `json:"name" toml:"name"`
	Args        []argValue `json:"args" toml:"args"`
	Returns     []int      `json:"returns" toml:"returns"`
	Aliases     []string   `json:"aliases" toml:"aliases"`
	Class       string     `json:"class" toml:"class"`
	Value       *bool      `json:"value" toml:"value"`
	Description string     `json:"description" toml:"description"`
}

// argValue accepts both "2" and 2 in sources.
type argValue struct {
	ArgSpec
}

func (a *argValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		spec, err := ParseArgSpec(s)
		a.ArgSpec = spec
		return err
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("argument spec %s: %w", data, err)
	}
	spec, err := ParseArgSpec(strconv.Itoa(n))
	a.ArgSpec = spec
	return err
}

func (a *argValue) UnmarshalTOML(v any) error {
	var (
		spec ArgSpec
		err  error
	)
	switch x := v.(type) {
	case string:
		spec, err = ParseArgSpec(x)
	case int64:
		spec, err = ParseArgSpec(strconv.FormatInt(x, 10))
	default:
		err = fmt.Errorf("argument spec: unexpected %T", v)
	}
	a.ArgSpec = spec
	return err
}

// parseID parses a numeric key in any base ("0x2a", "42", "0b101").
func parseID(key string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(key), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid opcode key %q", key)
	}
	return uint16(n), nil
}

func (e *sourceEntry) definition(opcode uint16) (*Definition, error) {
	v, err := LookupVariant(e.Class)
	if err != nil {
		return nil, err
	}
	def := &Definition{
		Opcode:      opcode,
		Name:        e.Name,
		Returns:     append([]int(nil), e.Returns...),
		Aliases:     append([]string(nil), e.Aliases...),
		Variant:     v,
		Value:       e.Value,
		Description: e.Description,
	}
	for _, a := range e.Args {
		def.Args = append(def.Args, a.ArgSpec)
	}
	return def, nil
}

// sortedKeys keeps definition order independent of map iteration, so a
// source that reuses a name on two opcodes resolves the same way every load.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadJSON reads a JSON instruction-set source into the registry. Entries
// override earlier definitions with the same opcode or movement id.
func (r *Registry) LoadJSON(rd io.Reader) error {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(rd).Decode(&raw); err != nil {
		return fmt.Errorf("instruction set: %w", err)
	}

	if mv, ok := raw[movementsKey]; ok {
		var movements map[string]string
		if err := json.Unmarshal(mv, &movements); err != nil {
			return fmt.Errorf("instruction set movements: %w", err)
		}
		if err := r.defineMovements(movements); err != nil {
			return err
		}
		delete(raw, movementsKey)
	}

	for _, key := range sortedKeys(raw) {
		opcode, err := parseID(key)
		if err != nil {
			return err
		}
		var e sourceEntry
		if err := json.Unmarshal(raw[key], &e); err != nil {
			return fmt.Errorf("opcode %s: %w", key, err)
		}
		def, err := e.definition(opcode)
		if err != nil {
			return fmt.Errorf("opcode %s: %w", key, err)
		}
		if err := r.Define(def); err != nil {
			return fmt.Errorf("opcode %s: %w", key, err)
		}
	}
	return nil
}

// LoadTOML reads a TOML instruction-set source. The layout mirrors the JSON
// one: a table per quoted opcode key plus an optional [movements] table.
func (r *Registry) LoadTOML(rd io.Reader) error {
	var raw map[string]toml.Primitive
	md, err := toml.NewDecoder(rd).Decode(&raw)
	if err != nil {
		return fmt.Errorf("instruction set: %w", err)
	}

	if mv, ok := raw[movementsKey]; ok {
		var movements map[string]string
		if err := md.PrimitiveDecode(mv, &movements); err != nil {
			return fmt.Errorf("instruction set movements: %w", err)
		}
		if err := r.defineMovements(movements); err != nil {
			return err
		}
		delete(raw, movementsKey)
	}

	for _, key := range sortedKeys(raw) {
		opcode, err := parseID(key)
		if err != nil {
			return err
		}
		var e sourceEntry
		if err := md.PrimitiveDecode(raw[key], &e); err != nil {
			return fmt.Errorf("opcode %s: %w", key, err)
		}
		def, err := e.definition(opcode)
		if err != nil {
			return fmt.Errorf("opcode %s: %w", key, err)
		}
		if err := r.Define(def); err != nil {
			return fmt.Errorf("opcode %s: %w", key, err)
		}
	}
	return nil
}

func (r *Registry) defineMovements(movements map[string]string) error {
	for _, key := range sortedKeys(movements) {
		id, err := parseID(key)
		if err != nil {
			return fmt.Errorf("movement: %w", err)
		}
		r.DefineMovement(id, movements[key])
	}
	return nil
}

// LoadFile loads a source file, choosing the format by extension
// (.toml, otherwise JSON).
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = r.LoadTOML(f)
	} else {
		err = r.LoadJSON(f)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
