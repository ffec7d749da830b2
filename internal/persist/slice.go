package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"dailypa/internal/auth"
	"dailypa/internal/store"

	"go.uber.org/zap"
)

// Slice binds a store to a fixed storage key. Once hydrated, every write to
// the store is serialized back to storage.
type Slice[T any] struct {
	kv       KV
	key      string
	defaults []byte
	store    *store.Store[T]
	logger   *zap.Logger

	mu  sync.Mutex
	sub *store.Subscription
}

// NewSlice creates a slice whose store starts at defaults. T must round-trip
// through encoding/json.
func NewSlice[T any](kv KV, key string, defaults T, logger *zap.Logger) (*Slice[T], error) {
	raw, err := json.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("encode defaults for %q: %w", key, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Slice[T]{
		kv:       kv,
		key:      key,
		defaults: raw,
		logger:   logger.Named("persist").With(zap.String("key", key)),
	}
	s.store = store.New(s.Defaults())
	return s, nil
}

// Store returns the in-memory store the slice keeps in sync.
func (s *Slice[T]) Store() *store.Store[T] { return s.store }

// Get returns the current value.
func (s *Slice[T]) Get() T { return s.store.Get() }

// Defaults returns a fresh copy of the declared defaults.
func (s *Slice[T]) Defaults() T {
	var v T
	_ = json.Unmarshal(s.defaults, &v)
	return v
}

// Hydrate seeds the store from storage and starts write-back. A missing or
// corrupt blob leaves the defaults in place. Fields absent from the stored
// blob keep their default values.
func (s *Slice[T]) Hydrate(ctx context.Context) T {
	value := s.Defaults()

	raw, ok, err := s.kv.Get(ctx, s.key)
	switch {
	case err != nil:
		s.logger.Warn("persisted slice unreadable, using defaults",
			zap.Error(&auth.PersistenceError{Key: s.key, Err: err}))
	case ok:
		decoded := s.Defaults()
		if err := json.Unmarshal(raw, &decoded); err != nil {
			s.logger.Warn("persisted slice corrupt, using defaults",
				zap.Error(&auth.PersistenceError{Key: s.key, Err: err}))
		} else {
			value = decoded
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		s.sub.Close()
	}
	s.store.Set(value)
	s.sub = s.store.Subscribe(func(v T) { s.write(context.Background(), v) })
	return value
}

// Update applies fn and persists the result.
func (s *Slice[T]) Update(fn func(T) T) T {
	return s.store.Update(fn)
}

// Set replaces the value and persists it.
func (s *Slice[T]) Set(v T) {
	s.store.Set(v)
}

// Merge overwrites only the top-level fields present in patch. patch is any
// value that encodes to a JSON object; omitted fields keep their current value.
func (s *Slice[T]) Merge(patch any) (T, error) {
	rawPatch, err := json.Marshal(patch)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("encode patch: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rawPatch, &fields); err != nil {
		var zero T
		return zero, fmt.Errorf("patch for %q is not an object: %w", s.key, err)
	}

	var mergeErr error
	next := s.store.Update(func(cur T) T {
		rawCur, err := json.Marshal(cur)
		if err != nil {
			mergeErr = err
			return cur
		}
		merged := make(map[string]json.RawMessage)
		if err := json.Unmarshal(rawCur, &merged); err != nil {
			mergeErr = err
			return cur
		}
		for k, v := range fields {
			merged[k] = v
		}
		rawNext, err := json.Marshal(merged)
		if err != nil {
			mergeErr = err
			return cur
		}
		var out T
		if err := json.Unmarshal(rawNext, &out); err != nil {
			mergeErr = err
			return cur
		}
		return out
	})
	return next, mergeErr
}

// Reset restores the declared defaults.
func (s *Slice[T]) Reset() T {
	d := s.Defaults()
	s.store.Set(d)
	return d
}

// Close stops write-back.
func (s *Slice[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}

func (s *Slice[T]) write(ctx context.Context, v T) {
	raw, err := json.Marshal(v)
	if err == nil {
		err = s.kv.Set(ctx, s.key, raw)
	}
	if err != nil {
		s.logger.Warn("persisting slice failed",
			zap.Error(&auth.PersistenceError{Key: s.key, Err: err}))
	}
}
