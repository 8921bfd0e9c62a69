package core

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/qbloq/pathql/core/internal/psql"
	"github.com/qbloq/pathql/core/internal/sdata"
)

// compiledQuery is a rendered statement and what the executor needs to
// bind and post-process it.
type compiledQuery struct {
	sql     string
	md      psql.Metadata
	numeric map[string]sdata.TypeKind
}

func (cq *compiledQuery) paramNames() []string {
	params := cq.md.Params()
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return names
}

// Cache holds compiled statements keyed by a structural hash of the query.
// A nil cache never hits.
type Cache struct {
	cache *lru.TwoQueueCache[uint64, *compiledQuery]
}

// initCache initializes the cache
func (pe *pathqlEngine) initCache() (err error) {
	size := pe.conf.planCacheSize()
	if size < 0 {
		return nil
	}
	pe.cache.cache, err = lru.New2Q[uint64, *compiledQuery](size)
	return
}

// Get returns the value from the cache
func (c Cache) Get(key uint64) (val *compiledQuery, fromCache bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(key)
}

// Set sets the value in the cache
func (c Cache) Set(key uint64, val *compiledQuery) {
	if c.cache != nil {
		c.cache.Add(key, val)
	}
}

// Len returns the number of cached statements
func (c Cache) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

func queryKey(q *QueryDef) (uint64, error) {
	return hashstructure.Hash(q, hashstructure.FormatV2, nil)
}
