package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/ReneKroon/ttlcache"
	"github.com/mr-tron/base58"

	"github.com/code-payments/receipt-validator/iap"
)

// Transport remembers accepted responses for identical submissions, so a
// client retrying the same receipt does not hit the verification service
// again until the entry expires. Only responses with StatusOK are cached.
type Transport struct {
	next  iap.Transport
	cache *ttlcache.Cache
}

func NewInCache(next iap.Transport, ttl time.Duration) *Transport {
	cache := ttlcache.NewCache()
	cache.SetTTL(ttl)
	return &Transport{
		next:  next,
		cache: cache,
	}
}

func (t *Transport) Post(ctx context.Context, env iap.Environment, req *iap.Request) (*iap.Response, error) {
	cacheKey, err := toCacheKey(env, req)
	if err != nil {
		return t.next.Post(ctx, env, req)
	}

	if cached, ok := t.cache.Get(cacheKey); ok {
		return cached.(*iap.Response).Clone(), nil
	}

	resp, err := t.next.Post(ctx, env, req)
	if err != nil {
		return nil, err
	}

	if resp != nil && resp.Status == iap.StatusOK {
		t.cache.Set(cacheKey, resp.Clone())
	}
	return resp, nil
}

func (t *Transport) Close() {
	t.cache.Close()
}

// toCacheKey hashes the wire payload, so the shared secret is never kept in
// the clear.
func toCacheKey(env iap.Environment, req *iap.Request) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(env.String()))
	h.Write(payload)
	return base58.Encode(h.Sum(nil)), nil
}
