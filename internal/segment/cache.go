package segment

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache memoizes segmentation results keyed by a hash of the chapter
// markup, so prompt builds and footnote passes over the same chapter
// version don't re-parse.
type Cache struct {
	c *gocache.Cache
}

// NewCache creates a segmentation cache. Entries expire after ttl;
// ttl <= 0 means entries never expire.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Cache{c: gocache.New(ttl, 10*time.Minute)}
}

// Segment returns the cached result for the markup, computing and storing
// it on miss. The returned Result is shared; callers must not mutate it.
func (c *Cache) Segment(markup string) (*Result, error) {
	key := hashText(markup)
	if v, ok := c.c.Get(key); ok {
		return v.(*Result), nil
	}
	res, err := Segment(markup)
	if err != nil {
		return nil, err
	}
	c.c.Set(key, res, gocache.DefaultExpiration)
	return res, nil
}

// hashText returns a SHA256 hash of the text for cache keying.
func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
