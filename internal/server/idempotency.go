package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"posterm/internal/metrics"
	"posterm/internal/posapi"
)

const maxBody = 1 << 20

// CachedResponse is a stored answer to an idempotent request.
type CachedResponse struct {
	Fingerprint string      `json:"fingerprint"`
	Status      int         `json:"status"`
	Header      http.Header `json:"header"`
	Body        []byte      `json:"body"`
	CachedAt    time.Time   `json:"cached_at"`
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*CachedResponse, bool, error)
	Put(ctx context.Context, key string, c CachedResponse) error
}

// MemoryIdempotencyStore keeps responses for ttl in process memory.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]CachedResponse
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]CachedResponse), ttl: ttl, now: time.Now}
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*CachedResponse, bool, error) {
	s.mu.RLock()
	c, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || s.now().Sub(c.CachedAt) >= s.ttl {
		return nil, false, nil
	}
	return &c, true, nil
}

func (s *MemoryIdempotencyStore) Put(_ context.Context, key string, c CachedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.entries {
		if now.Sub(v.CachedAt) >= s.ttl {
			delete(s.entries, k)
		}
	}
	c.CachedAt = now
	s.entries[key] = c
	return nil
}

// RedisIdempotencyStore shares cached responses between backend replicas.
type RedisIdempotencyStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client redis.Cmdable, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: "posbackend:idem:", ttl: ttl}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*CachedResponse, bool, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var c CachedResponse
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, false, fmt.Errorf("decode cached response: %w", err)
	}
	return &c, true, nil
}

func (s *RedisIdempotencyStore) Put(ctx context.Context, key string, c CachedResponse) error {
	c.CachedAt = time.Now().UTC()
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+key, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Fingerprint hashes the canonical (RFC 8785) form of a JSON body, so key
// order and whitespace do not make two equal requests differ.
func Fingerprint(body []byte) (string, error) {
	canon, err := jcs.Transform(body)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// Idempotent replays the stored response for a repeated Idempotency-Key and
// rejects a reused key whose body differs with 422. Only 2xx answers are
// stored. Requests without the header pass through.
func Idempotent(store IdempotencyStore, log *zap.Logger, m *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(posapi.HeaderIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
			if err != nil {
				writeError(w, http.StatusBadRequest, "Could not read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fp, err := Fingerprint(body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Request body is not valid JSON")
				return
			}

			cached, ok, err := store.Get(r.Context(), key)
			if err != nil {
				log.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
			}
			if ok {
				if cached.Fingerprint != fp {
					writeError(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request")
					return
				}
				m.IdempotentReplays.Inc()
				for k, vs := range cached.Header {
					if k == HeaderRequestID {
						continue
					}
					w.Header()[k] = vs
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				return
			}

			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)
			if cw.status < 200 || cw.status > 299 {
				return
			}
			hdr := w.Header().Clone()
			hdr.Del(HeaderRequestID)
			if err := store.Put(r.Context(), key, CachedResponse{Fingerprint: fp, Status: cw.status, Header: hdr, Body: cw.body.Bytes()}); err != nil {
				log.Warn("idempotency store failed", zap.String("key", key), zap.Error(err))
			}
		})
	}
}
