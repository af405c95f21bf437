package state

import (
	"encoding/json"
	"reflect"
	"sort"
)

// Delta is a minimal patch between two compressed states.
type Delta struct {
	Added   map[string]any `json:"added,omitempty"`
	Removed []string       `json:"removed,omitempty"`
	Changed map[string]any `json:"changed,omitempty"`

	// SavingsPercent estimates how much smaller the delta is than the
	// full new state.
	SavingsPercent float64 `json:"savings_percent"`
}

// IsEmpty reports whether the delta carries no changes.
func (d *Delta) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// ComputeDelta produces the patch that transforms prior into next. Values
// are compared by deep equality of their JSON shapes.
func ComputeDelta(prior, next State) *Delta {
	d := &Delta{
		Added:   make(map[string]any),
		Changed: make(map[string]any),
	}

	for k, nv := range next {
		pv, existed := prior[k]
		if !existed {
			d.Added[k] = deepCopy(nv)
			continue
		}
		if !valueEqual(pv, nv) {
			d.Changed[k] = deepCopy(nv)
		}
	}
	for k := range prior {
		if _, kept := next[k]; !kept {
			d.Removed = append(d.Removed, k)
		}
	}
	sort.Strings(d.Removed)

	fullSize := approxSize(next)
	deltaSize := approxSize(d.Added) + approxSize(d.Changed) + approxSize(d.Removed)
	if fullSize > 0 {
		d.SavingsPercent = float64(fullSize-deltaSize) / float64(fullSize) * 100
		if d.SavingsPercent < 0 {
			d.SavingsPercent = 0
		}
	}

	return d
}

// ApplyDelta reconstructs the next state from a base state and a delta.
// The base is not mutated.
func ApplyDelta(base State, d *Delta) State {
	out := base.Clone()
	if out == nil {
		out = State{}
	}
	for k, v := range d.Added {
		out[k] = deepCopy(v)
	}
	for k, v := range d.Changed {
		out[k] = deepCopy(v)
	}
	for _, k := range d.Removed {
		delete(out, k)
	}
	return out
}

func valueEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	// Mixed typed/untyped values compare by JSON shape.
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(ab) == string(bb)
}

func approxSize(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}
