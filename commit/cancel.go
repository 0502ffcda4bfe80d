// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package commit

// CancelBackouts cancels commit/backout pairs within one list: iterate the list in
// order maintaining a set of admitted hashes; a non-backout is always admitted; a backout is
// dropped (and its backed-out hashes are withdrawn) if every hash it backs out is currently
// admitted, otherwise the backout itself is kept. The result preserves the input order.
//
// The function is involutive: CancelBackouts(CancelBackouts(l)) == CancelBackouts(l), since a
// second pass sees a list already free of fully-cancelled pairs and changes nothing.
func CancelBackouts(l []*Gecko) []*Gecko {
	admitted := make(map[string]bool, len(l))
	dropped := make(map[string]bool, len(l))

	for _, g := range l {
		if g.IsBackout {
			if allAdmitted(g.BackedOut, admitted) {
				for _, h := range g.BackedOut {
					delete(admitted, h)
				}
				dropped[g.Hash] = true
				continue
			}
			admitted[g.Hash] = true
			continue
		}
		admitted[g.Hash] = true
	}

	out := make([]*Gecko, 0, len(l))
	for _, g := range l {
		if dropped[g.Hash] {
			continue
		}
		if admitted[g.Hash] {
			out = append(out, g)
		}
	}
	return out
}

func allAdmitted(hashes []string, admitted map[string]bool) bool {
	if len(hashes) == 0 {
		return false
	}
	for _, h := range hashes {
		if !admitted[h] {
			return false
		}
	}
	return true
}

// BackoutCommitFilter retains commits belonging to one bug's sync: a non-empty tracked change
// authored against the bug, or a backout of a commit this filter previously admitted.
// It is stateful across a call sequence, recording the hashes it has admitted so later backouts
// naming them can be recognized.
type BackoutCommitFilter struct {
	Bug            int
	TrackedSubtree string

	seen map[string]bool
}

// Admit reports whether g should be retained for this bug's sync, recording the hashes of the
// bug's own changes so later backouts naming them are recognized. A backout naming nothing this
// filter has seen can still be admitted on its own terms, as a non-empty tracked change authored
// against the bug.
func (f *BackoutCommitFilter) Admit(g *Gecko) bool {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if g.HasSkipMarker() || g.IsDownstream {
		return false
	}
	if g.IsBackout {
		for _, h := range g.BackedOut {
			if f.seen[h] {
				return true
			}
		}
	}
	if g.Bug != f.Bug {
		return false
	}
	if !g.TouchesTracked(f.TrackedSubtree) || g.EmptyOnTracked(f.TrackedSubtree) {
		return false
	}
	f.seen[g.Hash] = true
	return true
}
