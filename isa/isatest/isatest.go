// Package isatest provides a small instruction set for tests in other
// packages.
package isatest

import (
	"strings"

	"github.com/chazu/fieldscript/isa"
)

// Opcodes of the test instruction set.
const (
	OpEnd           = 0x02
	OpKillScript    = 0x03
	OpWait          = 0x0B
	OpJump          = 0x16
	OpSetVar        = 0x1A
	OpCheckLR       = 0x1C
	OpCheckflag     = 0x1E
	OpSetflag       = 0x1F
	OpIf            = 0x11
	OpIf2           = 0x12
	OpGetPos        = 0x28
	OpMessage       = 0x2C
	OpPlaySound     = 0x49
	OpApplyMovement = 0x5E
)

// JSON is the instruction-set source behind New.
const JSON = `{
	"0x2": {"name": "End", "class": "EndCommand", "value": true},
	"0x3": {"name": "KillScript", "class": "EndCommand", "value": false},
	"0xb": {"name": "Wait", "args": ["1"]},
	"0x16": {"name": "Jump", "args": [4], "class": "JumpCommand"},
	"0x1a": {"name": "SetVar", "args": ["var", "2"]},
	"0x1c": {"name": "CheckLR", "args": [1, 4], "class": "ConditionalJumpCommand"},
	"0x1e": {"name": "Checkflag", "args": ["flag"], "class": "SetConditionCommand"},
	"0x1f": {"name": "Setflag", "args": ["flag"]},
	"0x11": {"name": "If", "args": ["var", "2"], "class": "SetConditionCommand"},
	"0x12": {"name": "If2", "args": ["var", "var"], "class": "SetConditionCommand"},
	"0x28": {"name": "GetPos", "args": ["var", "var"], "returns": [0, 1]},
	"0x2c": {"name": "Message", "args": ["1"], "class": "MessageCommand", "aliases": ["Msg"]},
	"0x49": {"name": "PlaySound", "args": ["2"], "description": "Play a sound effect."},
	"0x5e": {"name": "ApplyMovement", "args": ["2", "4"], "class": "MovementCommand"},
	"movements": {"0x0": "walk_up", "0x1": "walk_down", "0xc": "face_left"}
}`

// New returns a registry loaded from JSON. It panics on a load error.
func New() *isa.Registry {
	r := isa.NewRegistry()
	if err := r.LoadJSON(strings.NewReader(JSON)); err != nil {
		panic(err)
	}
	return r
}
