package decompiler

import "github.com/chazu/fieldscript/script"

// TargetState tracks whether a jump target has been decoded.
type TargetState int

const (
	Pending TargetState = iota
	Resolved
)

// Target is a jump destination discovered while decoding.
type Target struct {
	Offset   int
	Stmts    []script.Stmt
	State    TargetState
	Refs     int // number of jump sites
	Promoted bool
	Func     int // function id when Promoted
	Err      error
}

// Targets is an arena of jump targets keyed by absolute offset. Iteration
// follows discovery order.
type Targets struct {
	byOffset map[int]*Target
	order    []*Target
}

// NewTargets creates an empty arena.
func NewTargets() *Targets {
	return &Targets{byOffset: make(map[int]*Target)}
}

// Reference records a jump to offset, creating a pending entry the first
// time the offset is seen.
func (t *Targets) Reference(offset int) *Target {
	e, ok := t.byOffset[offset]
	if !ok {
		e = &Target{Offset: offset}
		t.byOffset[offset] = e
		t.order = append(t.order, e)
	}
	e.Refs++
	return e
}

// Get returns the entry for offset.
func (t *Targets) Get(offset int) (*Target, bool) {
	e, ok := t.byOffset[offset]
	return e, ok
}

// All returns every entry in discovery order.
func (t *Targets) All() []*Target {
	return t.order
}

// Len returns the number of entries.
func (t *Targets) Len() int {
	return len(t.order)
}
