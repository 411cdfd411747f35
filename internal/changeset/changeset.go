// Package changeset computes the delta that turns the artifacts of one
// package catalog into those of another.
//
// Both catalogs are expected to be sorted ascending by package name, which is
// the order Debian archives publish them in. Lookups go through a name index,
// so an unsorted catalog still produces a correct delta; only the emission
// order then follows the unsorted input.
package changeset

import (
	"encoding/json"
	"fmt"

	"github.com/open-edge-platform/mirror-sync/internal/ospackage"
)

// Kind is the type of change an entry describes.
type Kind int

const (
	New Kind = iota
	Upgrade
	Remove
)

func (k Kind) String() string {
	switch k {
	case New:
		return "new"
	case Upgrade:
		return "upgrade"
	case Remove:
		return "remove"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// State tracks an entry through a sync run.
type State int

const (
	Queued State = iota
	InProgress
	Applied
	Failed
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case InProgress:
		return "in-progress"
	case Applied:
		return "applied"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Entry is one unit of required work. Incoming is set for New and Upgrade,
// Outgoing for Upgrade and Remove.
type Entry struct {
	Kind     Kind
	Incoming *ospackage.PackageInfo
	Outgoing *ospackage.PackageInfo
	State    State
}

// Name returns the package name the entry refers to.
func (e Entry) Name() string {
	if e.Incoming != nil {
		return e.Incoming.Name
	}
	if e.Outgoing != nil {
		return e.Outgoing.Name
	}
	return ""
}

func (e Entry) String() string {
	switch e.Kind {
	case Upgrade:
		return fmt.Sprintf("upgrade %s %s -> %s", e.Name(), e.Outgoing.Version, e.Incoming.Version)
	case New:
		return fmt.Sprintf("new %s %s", e.Name(), e.Incoming.Version)
	case Remove:
		return fmt.Sprintf("remove %s %s", e.Name(), e.Outgoing.Version)
	}
	return e.Kind.String() + " " + e.Name()
}

// MarshalJSON emits absent records as null.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind     Kind                   `json:"kind"`
		Name     string                 `json:"name"`
		Incoming *ospackage.PackageInfo `json:"incoming"`
		Outgoing *ospackage.PackageInfo `json:"outgoing"`
		State    State                  `json:"state"`
	}{e.Kind, e.Name(), e.Incoming, e.Outgoing, e.State})
}

// index maps a package name to its first position in a catalog.
type index map[string]int

func buildIndex(pkgs []ospackage.PackageInfo) index {
	idx := make(index, len(pkgs))
	for i := range pkgs {
		if _, dup := idx[pkgs[i].Name]; dup {
			continue
		}
		idx[pkgs[i].Name] = i
	}
	return idx
}

// Compute diffs the desired catalog against the current one.
//
// New and Upgrade entries come first, in desired order, followed by Remove
// entries in current order. A name present in both catalogs with an equal
// version produces no entry. Every entry starts Queued. Entries point into
// the input slices, which must not be modified while the result is in use.
func Compute(desired, current []ospackage.PackageInfo) []Entry {
	curIdx := buildIndex(current)
	desIdx := buildIndex(desired)

	var entries []Entry
	for i := range desired {
		in := &desired[i]
		if desIdx[in.Name] != i {
			// repeated name, the first record already decided it
			continue
		}
		j, found := curIdx[in.Name]
		if !found {
			entries = append(entries, Entry{Kind: New, Incoming: in, State: Queued})
			continue
		}
		if current[j].Version != in.Version {
			entries = append(entries, Entry{Kind: Upgrade, Incoming: in, Outgoing: &current[j], State: Queued})
		}
	}

	for i := range current {
		out := &current[i]
		if curIdx[out.Name] != i {
			continue
		}
		if _, found := desIdx[out.Name]; !found {
			entries = append(entries, Entry{Kind: Remove, Outgoing: out, State: Queued})
		}
	}
	return entries
}

// Filter returns the entries whose kind is one of kinds, preserving order.
func Filter(entries []Entry, kinds ...Kind) []Entry {
	var out []Entry
	for _, e := range entries {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Summary counts entries per kind.
type Summary struct {
	New     int `json:"new"`
	Upgrade int `json:"upgrade"`
	Remove  int `json:"remove"`
}

// Total is the number of entries counted.
func (s Summary) Total() int {
	return s.New + s.Upgrade + s.Remove
}

func Summarize(entries []Entry) Summary {
	var s Summary
	for _, e := range entries {
		switch e.Kind {
		case New:
			s.New++
		case Upgrade:
			s.Upgrade++
		case Remove:
			s.Remove++
		}
	}
	return s
}
