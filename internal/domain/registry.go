package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrKeyCollision is returned when two natural keys share a surrogate key.
var ErrKeyCollision = errors.New("surrogate key collision")

// KeyRegistry issues surrogate keys per dimension. Keys are never renumbered:
// a natural key seen before gets its old key back, a new one gets max+1.
// An empty registry therefore numbers keys 1..N in assignment order.
type KeyRegistry struct {
	dims map[string]*dimensionKeys
}

type dimensionKeys struct {
	byNatural map[string]int
	max       int
}

// NewKeyRegistry restores a registry from a snapshot taken with Snapshot.
// A nil snapshot yields an empty registry.
func NewKeyRegistry(snapshot map[string]map[string]int) (*KeyRegistry, error) {
	r := &KeyRegistry{dims: make(map[string]*dimensionKeys, len(snapshot))}
	for dim, keys := range snapshot {
		d := &dimensionKeys{byNatural: make(map[string]int, len(keys))}
		owners := make(map[int]string, len(keys))
		for natural, id := range keys {
			if id < 1 {
				return nil, fmt.Errorf("dimension %s: key %d for %q is not positive", dim, id, natural)
			}
			if other, dup := owners[id]; dup {
				return nil, fmt.Errorf("dimension %s: %q and %q both map to %d: %w", dim, other, natural, id, ErrKeyCollision)
			}
			owners[id] = natural
			d.byNatural[natural] = id
			d.max = max(d.max, id)
		}
		r.dims[dim] = d
	}
	return r, nil
}

// Assign returns the surrogate key for each natural key, issuing new keys in
// the order given.
func (r *KeyRegistry) Assign(dimension string, naturals []string) []int {
	d, ok := r.dims[dimension]
	if !ok {
		d = &dimensionKeys{byNatural: make(map[string]int, len(naturals))}
		r.dims[dimension] = d
	}
	ids := make([]int, len(naturals))
	for i, nk := range naturals {
		id, ok := d.byNatural[nk]
		if !ok {
			d.max++
			id = d.max
			d.byNatural[nk] = id
		}
		ids[i] = id
	}
	return ids
}

// Len returns the number of natural keys registered for a dimension.
func (r *KeyRegistry) Len(dimension string) int {
	if d, ok := r.dims[dimension]; ok {
		return len(d.byNatural)
	}
	return 0
}

// Snapshot copies the registry for persistence.
func (r *KeyRegistry) Snapshot() map[string]map[string]int {
	out := make(map[string]map[string]int, len(r.dims))
	for dim, d := range r.dims {
		keys := make(map[string]int, len(d.byNatural))
		for nk, id := range d.byNatural {
			keys[nk] = id
		}
		out[dim] = keys
	}
	return out
}

const (
	naturalKeySep  = "\x1f"
	naturalKeyNull = "\x00"
)

// naturalKey encodes a tuple of nullable values. Null is distinct from the
// empty string.
func naturalKey(parts ...*string) string {
	enc := make([]string, len(parts))
	for i, p := range parts {
		if p == nil {
			enc[i] = naturalKeyNull
			continue
		}
		enc[i] = *p
	}
	return strings.Join(enc, naturalKeySep)
}

func floatKey(v *float64) *string {
	if v == nil {
		return nil
	}
	s := strconv.FormatFloat(*v, 'f', -1, 64)
	return &s
}
