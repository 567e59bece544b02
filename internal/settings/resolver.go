package settings

import (
	"slices"
	"strconv"

	gocache "github.com/patrickmn/go-cache"
)

// Resolver resolves per-chain settings from a table.
// Results are memoised per chain id; every call returns an independent copy.
type Resolver struct {
	table Table
	cache *gocache.Cache
}

// NewResolver creates a resolver over table. The table is copied.
func NewResolver(table Table) *Resolver {
	return &Resolver{
		table: MergeTables(Table{}, table),
		cache: gocache.New(gocache.NoExpiration, 0),
	}
}

// NewDefaultResolver resolves against the built-in table.
func NewDefaultResolver() (*Resolver, error) {
	t, err := Default()
	if err != nil {
		return nil, err
	}
	return NewResolver(t), nil
}

// Resolve returns the generic record merged with the record for chainID.
// Unknown chains get the generic values only.
func (r *Resolver) Resolve(chainID int64) Network {
	key := strconv.FormatInt(chainID, 10)
	if v, found := r.cache.Get(key); found {
		return v.(Network).Clone()
	}

	n := finalize(chainID, Merge(r.table.Generic, r.table.Networks[chainID]))
	r.cache.Set(key, n, gocache.NoExpiration)
	return n.Clone()
}

// Known reports whether the table has a chain-specific record for chainID.
func (r *Resolver) Known(chainID int64) bool {
	_, ok := r.table.Networks[chainID]
	return ok
}

// ChainIDs returns the chain ids with chain-specific records.
func (r *Resolver) ChainIDs() []int64 {
	ids := make([]int64, 0, len(r.table.Networks))
	for id := range r.table.Networks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
