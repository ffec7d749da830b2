package auth

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"dailypa/internal/models"
)

// SessionStorage is the slice of key-value storage a Holder needs to keep a
// session across restarts.
type SessionStorage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Holder keeps the session a source client currently holds and fans change
// notifications out to listeners. Source implementations embed it.
type Holder struct {
	storage SessionStorage
	key     string

	mu        sync.Mutex
	loaded    bool
	session   *models.Session
	nextID    int
	listeners map[int]func(Event)
}

// NewHolder creates a holder seeded with session. When storage is non-nil the
// session is read from and written to it under key.
func NewHolder(seed *models.Session, storage SessionStorage, key string) *Holder {
	return &Holder{
		storage:   storage,
		key:       key,
		loaded:    seed != nil || storage == nil,
		session:   seed,
		listeners: make(map[int]func(Event)),
	}
}

// Current returns the held session, loading it from storage on first use.
// An unreadable stored session counts as no session.
func (h *Holder) Current(ctx context.Context) *models.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		h.loaded = true
		if raw, ok, err := h.storage.Get(ctx, h.key); err == nil && ok {
			var s models.Session
			if json.Unmarshal(raw, &s) == nil && s.AccessToken != "" {
				h.session = &s
			}
		}
	}
	return h.session
}

// Replace stores session and notifies listeners with ev.
func (h *Holder) Replace(ctx context.Context, ev EventType, session *models.Session) error {
	h.mu.Lock()
	h.loaded = true
	h.session = session
	h.mu.Unlock()

	var err error
	if h.storage != nil {
		var raw []byte
		if raw, err = json.Marshal(session); err == nil {
			err = h.storage.Set(ctx, h.key, raw)
		}
	}
	h.emit(Event{Type: ev, Session: session})
	if err != nil {
		return &PersistenceError{Key: h.key, Err: err}
	}
	return nil
}

// Clear drops the session and notifies listeners with EventSignedOut.
func (h *Holder) Clear(ctx context.Context) error {
	h.mu.Lock()
	h.loaded = true
	h.session = nil
	h.mu.Unlock()

	var err error
	if h.storage != nil {
		err = h.storage.Remove(ctx, h.key)
	}
	h.emit(Event{Type: EventSignedOut})
	if err != nil {
		return &PersistenceError{Key: h.key, Err: err}
	}
	return nil
}

// Subscribe registers fn for change notifications.
func (h *Holder) Subscribe(fn func(Event)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// Listeners returns the number of registered listeners.
func (h *Holder) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func (h *Holder) emit(ev Event) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		h.mu.Lock()
		fn, ok := h.listeners[id]
		h.mu.Unlock()
		if ok {
			fn(ev)
		}
	}
}
