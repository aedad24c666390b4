// Package diff computes atomic structural differences between two canonical
// documents.
package diff

import (
	"sort"
	"strconv"
	"strings"

	"github.com/apiwatch/apiwatch/pkg/canonical"
)

// Kind is the type of an atomic change.
type Kind string

const (
	Added    Kind = "added"
	Removed  Kind = "removed"
	Modified Kind = "modified"
)

// ChangeRecord is one atomic structural difference. OldValue and NewValue
// are canonical JSON renderings; OldValue is empty for additions and
// NewValue is empty for removals.
type ChangeRecord struct {
	Kind     Kind   `json:"kind"`
	Path     string `json:"path"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`

	// Segments is the path split into its components. It exists so the
	// classifier can reason about structure without re-parsing Path, whose
	// keys may themselves contain dots.
	Segments []string `json:"-"`
}

// Diff walks both trees and returns every atomic difference, depth-first,
// alphabetical within a sibling group. It is pure and deterministic:
// identical inputs always yield identical, identically ordered output.
func Diff(prev, curr *canonical.Node) []ChangeRecord {
	var out []ChangeRecord
	compare(prev, curr, nil, &out)
	return out
}

func compare(prev, curr *canonical.Node, path []string, out *[]ChangeRecord) {
	if prev == nil && curr == nil {
		return
	}
	if prev == nil {
		*out = append(*out, record(Added, path, "", canonical.Render(curr)))
		return
	}
	if curr == nil {
		*out = append(*out, record(Removed, path, canonical.Render(prev), ""))
		return
	}

	// A kind change (object became scalar, string became integer, ...) is a
	// single modification at this node, never a remove+add pair.
	if prev.Kind != curr.Kind {
		*out = append(*out, record(Modified, path, canonical.Render(prev), canonical.Render(curr)))
		return
	}

	switch prev.Kind {
	case canonical.KindObject:
		compareObjects(prev, curr, path, out)
	case canonical.KindSet:
		compareSets(prev, curr, path, out)
	case canonical.KindArray:
		compareArrays(prev, curr, path, out)
	default:
		if prev.Scalar != curr.Scalar {
			*out = append(*out, record(Modified, path, prev.Scalar, curr.Scalar))
		}
	}
}

func compareObjects(prev, curr *canonical.Node, path []string, out *[]ChangeRecord) {
	keys := make(map[string]struct{}, len(prev.Object)+len(curr.Object))
	for k := range prev.Object {
		keys[k] = struct{}{}
	}
	for k := range curr.Object {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		p, inPrev := prev.Object[k]
		c, inCurr := curr.Object[k]
		child := append(path, k)
		switch {
		case inPrev && !inCurr:
			*out = append(*out, record(Removed, child, canonical.Render(p), ""))
		case !inPrev && inCurr:
			*out = append(*out, record(Added, child, "", canonical.Render(c)))
		default:
			compare(p, c, child, out)
		}
	}
}

// compareSets emits one record per member of the symmetric difference.
func compareSets(prev, curr *canonical.Node, path []string, out *[]ChangeRecord) {
	members := make(map[string]struct{}, len(prev.Set)+len(curr.Set))
	for m := range prev.Set {
		members[m] = struct{}{}
	}
	for m := range curr.Set {
		members[m] = struct{}{}
	}
	sorted := make([]string, 0, len(members))
	for m := range members {
		sorted = append(sorted, m)
	}
	sort.Strings(sorted)

	for _, m := range sorted {
		_, inPrev := prev.Set[m]
		_, inCurr := curr.Set[m]
		child := append(path, m)
		switch {
		case inPrev && !inCurr:
			*out = append(*out, record(Removed, child, strconv.Quote(m), ""))
		case !inPrev && inCurr:
			*out = append(*out, record(Added, child, "", strconv.Quote(m)))
		}
	}
}

// compareArrays compares index-wise. A pure reordering of equal elements is
// not reported: sequence order in interface descriptions is presentation-only.
func compareArrays(prev, curr *canonical.Node, path []string, out *[]ChangeRecord) {
	if sameMultiset(prev.Array, curr.Array) {
		return
	}
	n := len(prev.Array)
	if len(curr.Array) > n {
		n = len(curr.Array)
	}
	for i := 0; i < n; i++ {
		child := append(path, strconv.Itoa(i))
		switch {
		case i >= len(curr.Array):
			*out = append(*out, record(Removed, child, canonical.Render(prev.Array[i]), ""))
		case i >= len(prev.Array):
			*out = append(*out, record(Added, child, "", canonical.Render(curr.Array[i])))
		default:
			compare(prev.Array[i], curr.Array[i], child, out)
		}
	}
}

func sameMultiset(a, b []*canonical.Node) bool {
	if len(a) != len(b) {
		return false
	}
	ra := make([]string, len(a))
	rb := make([]string, len(b))
	for i := range a {
		ra[i] = canonical.Render(a[i])
		rb[i] = canonical.Render(b[i])
	}
	sort.Strings(ra)
	sort.Strings(rb)
	for i := range ra {
		if ra[i] != rb[i] {
			return false
		}
	}
	return true
}

func record(kind Kind, path []string, oldVal, newVal string) ChangeRecord {
	segs := make([]string, len(path))
	copy(segs, path)
	return ChangeRecord{
		Kind:     kind,
		Path:     strings.Join(segs, "."),
		OldValue: oldVal,
		NewValue: newVal,
		Segments: segs,
	}
}
