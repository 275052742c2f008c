// Package memory provides an in-process db.Store for local runs and tests.
// Data does not survive a restart; the index rebuilds from re-ingestion.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kailas-cloud/issuepilot/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Store implements db.Store on plain maps guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	kv      map[string][]byte
	hashes  map[string]map[string]string
	expires map[string]time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		kv:      make(map[string][]byte),
		hashes:  make(map[string]map[string]string),
		expires: make(map[string]time.Time),
	}
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// WaitForReady always succeeds.
func (s *Store) WaitForReady(_ context.Context, _ time.Duration) error { return nil }

// Get retrieves a value by key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.alive(key) {
		return nil, db.ErrKeyNotFound
	}
	v, ok := s.kv[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a value and clears any previous expiry.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kv[key] = cloneBytes(value)
	delete(s.expires, key)
	return nil
}

// SetWithTTL stores a value with an expiration.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kv[key] = cloneBytes(value)
	s.expires[key] = time.Now().Add(ttl)
	return nil
}

// IncrBy increments an integer value, creating the key at zero if missing.
func (s *Store) IncrBy(_ context.Context, key string, val int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur int64
	if raw, ok := s.kv[key]; ok && s.alive(key) {
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return &db.Error{Op: db.OpIncrBy, Err: err}
		}
		cur = n
	}
	s.kv[key] = []byte(strconv.FormatInt(cur+val, 10))
	return nil
}

// Expire sets TTL on a key. When nx=true, only if the key has no expiry yet.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, kvOK := s.kv[key]; !kvOK {
		if _, hOK := s.hashes[key]; !hOK {
			return nil
		}
	}
	if nx {
		if _, has := s.expires[key]; has {
			return nil
		}
	}
	s.expires[key] = time.Now().Add(ttl)
	return nil
}

// HSet merges fields into a hash, creating it if missing.
func (s *Store) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hset(key, fields)
	return nil
}

// HSetMulti stores multiple hashes under a single lock acquisition.
func (s *Store) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		s.hset(item.Key, item.Fields)
	}
	return nil
}

func (s *Store) hset(key string, fields map[string]string) {
	if !s.alive(key) {
		delete(s.hashes, key)
		delete(s.expires, key)
	}
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
}

// HGetAll returns all fields of a hash. Missing keys yield an empty map.
func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hgetall(key), nil
}

// HGetAllMulti fetches all fields for multiple hashes.
func (s *Store) HGetAllMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]map[string]string, len(keys))
	for i, key := range keys {
		out[i] = s.hgetall(key)
	}
	return out, nil
}

func (s *Store) hgetall(key string) map[string]string {
	out := make(map[string]string)
	if !s.alive(key) {
		return out
	}
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out
}

// Del deletes a key.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.del(key)
	return nil
}

// DelMulti deletes multiple keys under a single lock acquisition.
func (s *Store) DelMulti(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.del(key)
	}
	return nil
}

func (s *Store) del(key string) {
	delete(s.kv, key)
	delete(s.hashes, key)
	delete(s.expires, key)
}

// Exists checks if a key exists.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.alive(key) {
		return false, nil
	}
	if _, ok := s.kv[key]; ok {
		return true, nil
	}
	_, ok := s.hashes[key]
	return ok, nil
}

// Scan returns all live keys matching a redis-style glob pattern, sorted for
// deterministic iteration.
func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.kv {
		if s.alive(key) && matchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	for key := range s.hashes {
		if _, dup := s.kv[key]; dup {
			continue
		}
		if s.alive(key) && matchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// alive reports whether the key has not expired. Callers hold the lock.
func (s *Store) alive(key string) bool {
	exp, ok := s.expires[key]
	if !ok {
		return true
	}
	return time.Now().Before(exp)
}

// matchPattern supports the '*' wildcard, which is the only glob feature the
// service uses in scan patterns.
func matchPattern(pattern, key string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == key
	}
	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(key, part)
		if idx < 0 {
			return false
		}
		key = key[idx+len(part):]
	}
	return strings.HasSuffix(key, parts[len(parts)-1])
}

func cloneBytes(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
