package server

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
)

// resultCache keeps successful analyses by request digest. A nil cache
// is disabled.
type resultCache struct {
	c    *cache.Cache
	size int
}

// newResultCache returns nil when ttl is not positive. A size of 0 means
// no limit on the number of entries.
func newResultCache(ttl time.Duration, size int) *resultCache {
	if ttl <= 0 {
		return nil
	}
	return &resultCache{
		c:    cache.New(ttl, 2*ttl),
		size: size,
	}
}

func (rc *resultCache) enabled() bool {
	return rc != nil
}

func (rc *resultCache) get(key string) (*AnalyzeResponse, bool) {
	if rc == nil {
		return nil, false
	}
	v, ok := rc.c.Get(key)
	if !ok {
		return nil, false
	}
	resp, ok := v.(*AnalyzeResponse)
	return resp, ok
}

// set does not evict: once full, nothing is added until entries expire.
func (rc *resultCache) set(key string, resp *AnalyzeResponse) {
	if rc == nil {
		return
	}
	if rc.size > 0 && rc.c.ItemCount() >= rc.size {
		return
	}
	rc.c.SetDefault(key, resp)
}

// cacheKey digests the forced configuration id and the request body.
func cacheKey(configID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(configID))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
