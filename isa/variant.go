package isa

import (
	"errors"
	"fmt"
	"sort"
)

// Variant is the behavioral category of an instruction. Decoders and
// encoders dispatch on it.
type Variant int

const (
	Plain Variant = iota
	End
	Jump
	SetCondition
	ConditionalJump
	Movement
	Message
)

var variantStrings = [...]string{
	Plain:           "Plain",
	End:             "End",
	Jump:            "Jump",
	SetCondition:    "SetCondition",
	ConditionalJump: "ConditionalJump",
	Movement:        "Movement",
	Message:         "Message",
}

func (v Variant) String() string {
	if int(v) >= 0 && int(v) < len(variantStrings) {
		return variantStrings[v]
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

var (
	// ErrDuplicateName is returned when a variant class name is registered twice.
	ErrDuplicateName = errors.New("duplicate name")
	// ErrUnknownVariant is returned for a class name with no registered variant.
	ErrUnknownVariant = errors.New("unknown variant")
)

// variants maps class names found in instruction-set sources to a variant.
// It is populated once at init and extended only through RegisterVariant.
var variants = map[string]Variant{}

func init() {
	for _, e := range []struct {
		name string
		v    Variant
	}{
		{"Command", Plain},
		{"EndCommand", End},
		{"JumpCommand", Jump},
		{"SetConditionCommand", SetCondition},
		{"ConditionalJumpCommand", ConditionalJump},
		{"MovementCommand", Movement},
		{"MessageCommand", Message},
		{"plain", Plain},
		{"end", End},
		{"jump", Jump},
		{"setcondition", SetCondition},
		{"conditionaljump", ConditionalJump},
		{"movement", Movement},
		{"message", Message},
	} {
		if err := RegisterVariant(e.name, e.v); err != nil {
			panic(err)
		}
	}
}

// RegisterVariant binds a class name to a variant. Registering a name that
// is already bound fails with ErrDuplicateName.
func RegisterVariant(name string, v Variant) error {
	if _, ok := variants[name]; ok {
		return fmt.Errorf("variant class %q: %w", name, ErrDuplicateName)
	}
	variants[name] = v
	return nil
}

// LookupVariant resolves a class name. An empty name is Plain.
func LookupVariant(name string) (Variant, error) {
	if name == "" {
		return Plain, nil
	}
	v, ok := variants[name]
	if !ok {
		return Plain, fmt.Errorf("class %q: %w", name, ErrUnknownVariant)
	}
	return v, nil
}

// VariantNames returns every registered class name, sorted.
func VariantNames() []string {
	names := make([]string, 0, len(variants))
	for n := range variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
