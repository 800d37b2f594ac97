package repositories

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BradenHooton/sentinel/internal/models"
)

// MemoryRateLimitRepository keeps fixed-window counters in a bounded LRU.
// When full, the least recently touched key is evicted, so an attacker
// cycling usernames cannot grow memory without bound. Records the retain
// predicate holds for (locked-out keys) are skipped while any other victim
// exists.
type MemoryRateLimitRepository struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, models.AttemptRecord]
	size    int
	retain  func(models.AttemptRecord) bool
	onEvict func()
}

// NewMemoryRateLimitRepository tracks at most maxKeys keys. onEvict, if not
// nil, is called for every capacity eviction.
func NewMemoryRateLimitRepository(maxKeys int, onEvict func()) (*MemoryRateLimitRepository, error) {
	cache, err := lru.New[string, models.AttemptRecord](maxKeys)
	if err != nil {
		return nil, err
	}
	return &MemoryRateLimitRepository{cache: cache, size: maxKeys, onEvict: onEvict}, nil
}

// SetRetain installs the predicate consulted before a capacity eviction
func (r *MemoryRateLimitRepository) SetRetain(retain func(models.AttemptRecord) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retain = retain
}

func (r *MemoryRateLimitRepository) Get(_ context.Context, key string) (*models.AttemptRecord, error) {
	rec, ok := r.cache.Get(key)
	if !ok {
		return nil, models.ErrNotFound
	}
	return &rec, nil
}

func (r *MemoryRateLimitRepository) Upsert(_ context.Context, rec *models.AttemptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cache.Contains(rec.Key) && r.cache.Len() >= r.size {
		r.evictOne()
	}
	r.cache.Add(rec.Key, *rec)
	return nil
}

// evictOne drops the oldest key the retain predicate does not hold for,
// or the oldest key outright when every record is retained.
func (r *MemoryRateLimitRepository) evictOne() {
	keys := r.cache.Keys()
	if len(keys) == 0 {
		return
	}
	victim := keys[0]
	if r.retain != nil {
		for _, key := range keys {
			if rec, ok := r.cache.Peek(key); ok && !r.retain(rec) {
				victim = key
				break
			}
		}
	}
	r.cache.Remove(victim)
	if r.onEvict != nil {
		r.onEvict()
	}
}

func (r *MemoryRateLimitRepository) Delete(_ context.Context, key string) error {
	r.cache.Remove(key)
	return nil
}

func (r *MemoryRateLimitRepository) DeleteIdleBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for _, key := range r.cache.Keys() {
		rec, ok := r.cache.Peek(key)
		if ok && rec.LastUpdate.Before(cutoff) {
			r.cache.Remove(key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of tracked keys
func (r *MemoryRateLimitRepository) Len() int {
	return r.cache.Len()
}

// MemorySessionTokenRepository keeps bridge tokens in process memory
type MemorySessionTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]models.SessionToken
}

func NewMemorySessionTokenRepository() *MemorySessionTokenRepository {
	return &MemorySessionTokenRepository{tokens: make(map[string]models.SessionToken)}
}

func (r *MemorySessionTokenRepository) Create(_ context.Context, tok *models.SessionToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[tok.Token]; exists {
		return models.ErrConflict
	}
	r.tokens[tok.Token] = *tok
	return nil
}

func (r *MemorySessionTokenRepository) Consume(_ context.Context, token string, now time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[token]
	if !ok {
		return "", models.ErrTokenInvalid
	}
	if tok.Expired(now) {
		delete(r.tokens, token)
		return "", models.ErrTokenInvalid
	}
	if tok.Used {
		return "", models.ErrTokenInvalid
	}

	tok.Used = true
	r.tokens[token] = tok
	return tok.Username, nil
}

func (r *MemorySessionTokenRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, tok := range r.tokens {
		if tok.ExpiresAt.Before(now) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}
