// Package roles implements the process-global role/permission ranking
// used by the MinRole and Roles permission modes: an ordered list of
// (role, users) entries where order encodes rank, lowest first.
package roles

import (
	"sync"

	"github.com/w3f/ack-escalation/internal/alertmodel"
)

// Entry pairs a role with the users holding it.
type Entry struct {
	Role  alertmodel.Role
	Users []alertmodel.User
}

// Index is immutable process-global configuration mapping users to ranks.
// A user may appear in multiple entries; rank comparison uses the
// highest-indexed entry containing them. A small lookup cache is built at
// construction time so rank queries are O(1) rather than O(entries*users),
// mirroring the teacher's pattern of caching over an otherwise-linear
// storage scan.
type Index struct {
	entries []Entry
	mu      sync.RWMutex
	rankOf  map[alertmodel.User]int
}

// NewIndex builds an Index from an ordered entry list, lowest rank first.
func NewIndex(entries []Entry) *Index {
	idx := &Index{
		entries: append([]Entry(nil), entries...),
		rankOf:  make(map[alertmodel.User]int),
	}
	for rank, e := range idx.entries {
		for _, u := range e.Users {
			// Later (higher-rank) entries overwrite earlier ones, so the
			// final value is always the highest-indexed entry containing u.
			idx.rankOf[u] = rank
		}
	}
	return idx
}

// RankOf returns the highest rank index at which user appears, and
// whether the user appears in the index at all.
func (idx *Index) RankOf(u alertmodel.User) (rank int, ok bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	rank, ok = idx.rankOf[u]
	return rank, ok
}

// roleRank returns the rank (list position) of a role, or -1 if absent.
func (idx *Index) roleRank(role alertmodel.Role) int {
	for i, e := range idx.entries {
		if e.Role == role {
			return i
		}
	}
	return -1
}

// AtOrAbove reports whether user's rank is at or above the rank of role.
// A user absent from the index is never at or above any role.
func (idx *Index) AtOrAbove(u alertmodel.User, role alertmodel.Role) bool {
	roleRank := idx.roleRank(role)
	if roleRank < 0 {
		return false
	}
	userRank, ok := idx.RankOf(u)
	if !ok {
		return false
	}
	return userRank >= roleRank
}

// HasAnyRole reports whether user appears in any entry whose role is in
// the given set.
func (idx *Index) HasAnyRole(u alertmodel.User, rolesSet []alertmodel.Role) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	want := make(map[alertmodel.Role]struct{}, len(rolesSet))
	for _, r := range rolesSet {
		want[r] = struct{}{}
	}
	for _, e := range idx.entries {
		if _, found := want[e.Role]; !found {
			continue
		}
		for _, candidate := range e.Users {
			if candidate.Equal(u) {
				return true
			}
		}
	}
	return false
}
