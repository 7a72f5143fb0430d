package database

import "context"

// DefaultKeyField is the primary key column of canonical entity tables.
const DefaultKeyField = "id"

// StagingKeyField is the temporary primary key loaders give staging rows.
const StagingKeyField = "ogc_fid"

type cacheKey struct {
	entityType string
	key        string
}

type cacheEntry struct {
	row   Row
	found bool
}

// CachedSession is a read-through cache of lookups by primary key.
// Both hits and misses are memoized; entries are never invalidated, so a
// CachedSession must not outlive one extraction pass.
type CachedSession struct {
	sess *Session

	// KeyFields overrides the key column per entity type (table).
	KeyFields map[string]string

	entries map[cacheKey]cacheEntry
	hits    int
	misses  int
}

// NewCachedSession wraps a Session.
func NewCachedSession(s *Session) *CachedSession {
	return &CachedSession{
		sess:      s,
		KeyFields: make(map[string]string),
		entries:   make(map[cacheKey]cacheEntry),
	}
}

// GetOrLoad returns the entity of the given type (table) with the given key,
// loading it on first access.
func (c *CachedSession) GetOrLoad(ctx context.Context, entityType, key string) (Row, bool, error) {
	ck := cacheKey{entityType: entityType, key: key}
	if entry, ok := c.entries[ck]; ok {
		c.hits++
		return entry.row, entry.found, nil
	}

	keyField := c.KeyFields[entityType]
	if keyField == "" {
		keyField = DefaultKeyField
	}
	row, found, err := c.sess.GetByKey(ctx, entityType, keyField, key)
	if err != nil {
		return nil, false, err
	}
	c.misses++
	c.entries[ck] = cacheEntry{row: row, found: found}
	return row, found, nil
}

// Session returns the wrapped session, for queries that bypass the cache.
func (c *CachedSession) Session() *Session {
	return c.sess
}

// Len returns the number of cached entries.
func (c *CachedSession) Len() int {
	return len(c.entries)
}

// Stats returns the number of cache hits and loads.
func (c *CachedSession) Stats() (hits, loads int) {
	return c.hits, c.misses
}
