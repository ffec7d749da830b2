package persist

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type profile struct {
	ID        string `json:"id"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl"`
}

type failingKV struct{ err error }

func (f failingKV) Get(context.Context, string) ([]byte, bool, error) { return nil, false, f.err }
func (f failingKV) Set(context.Context, string, []byte) error         { return f.err }
func (f failingKV) Remove(context.Context, string) error              { return f.err }

func newProfileSlice(t *testing.T, kv KV) *Slice[profile] {
	t.Helper()
	s, err := NewSlice(kv, KeyProfile, profile{ID: "guest", FullName: "Guest"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSlice_HydrateMissingUsesDefaults(t *testing.T) {
	s := newProfileSlice(t, NewMemory())
	got := s.Hydrate(context.Background())
	assert.Equal(t, profile{ID: "guest", FullName: "Guest"}, got)
	assert.Equal(t, got, s.Get())
}

func TestSlice_HydrateCorruptUsesDefaults(t *testing.T) {
	kv := NewMemory()
	require.NoError(t, kv.Set(context.Background(), KeyProfile, []byte("{not json")))

	s := newProfileSlice(t, kv)
	assert.Equal(t, "guest", s.Hydrate(context.Background()).ID)
}

func TestSlice_HydrateUnreadableUsesDefaults(t *testing.T) {
	s := newProfileSlice(t, failingKV{err: errors.New("disk gone")})
	assert.Equal(t, "Guest", s.Hydrate(context.Background()).FullName)

	// write failures are swallowed as well
	s.Set(profile{ID: "u1"})
	assert.Equal(t, "u1", s.Get().ID)
}

func TestSlice_HydratePartialBlobKeepsDefaultFields(t *testing.T) {
	kv := NewMemory()
	require.NoError(t, kv.Set(context.Background(), KeyProfile, []byte(`{"id":"u1"}`)))

	s := newProfileSlice(t, kv)
	assert.Equal(t, profile{ID: "u1", FullName: "Guest"}, s.Hydrate(context.Background()))
}

func TestSlice_WritesBackEveryMutation(t *testing.T) {
	kv := NewMemory()
	s := newProfileSlice(t, kv)
	s.Hydrate(context.Background())

	_, ok, _ := kv.Get(context.Background(), KeyProfile)
	assert.False(t, ok, "hydration alone does not write")

	s.Set(profile{ID: "u1", FullName: "Ann"})

	raw, ok, err := kv.Get(context.Background(), KeyProfile)
	require.NoError(t, err)
	require.True(t, ok)
	var stored profile
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, "Ann", stored.FullName)

	// a second process sees the value
	reloaded := newProfileSlice(t, kv)
	assert.Equal(t, "Ann", reloaded.Hydrate(context.Background()).FullName)
}

func TestSlice_MergeIsShallow(t *testing.T) {
	s := newProfileSlice(t, NewMemory())
	s.Hydrate(context.Background())
	s.Set(profile{ID: "u1", FullName: "Ann", AvatarURL: "https://cdn.example.com/a.png"})

	got, err := s.Merge(map[string]any{"fullName": "Ann Lee"})
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", got.FullName)
	assert.Equal(t, "https://cdn.example.com/a.png", got.AvatarURL)
	assert.Equal(t, "u1", got.ID)
}

func TestSlice_MergeRejectsNonObject(t *testing.T) {
	s := newProfileSlice(t, NewMemory())
	_, err := s.Merge([]string{"nope"})
	assert.Error(t, err)
}

func TestSlice_ResetRestoresDefaults(t *testing.T) {
	kv := NewMemory()
	s := newProfileSlice(t, kv)
	s.Hydrate(context.Background())
	s.Set(profile{ID: "u1", FullName: "Ann"})

	assert.Equal(t, profile{ID: "guest", FullName: "Guest"}, s.Reset())

	raw, _, _ := kv.Get(context.Background(), KeyProfile)
	assert.JSONEq(t, `{"id":"guest","fullName":"Guest","avatarUrl":""}`, string(raw))
}

func TestSlice_DefaultsAreNotShared(t *testing.T) {
	s, err := NewSlice(NewMemory(), KeyBudget, map[string]float64{}, nil)
	require.NoError(t, err)
	s.Hydrate(context.Background())
	s.Update(func(m map[string]float64) map[string]float64 {
		m["2025-03"] = 500
		return m
	})
	assert.Empty(t, s.Defaults())
}

func TestPrefixed_ScopesKeys(t *testing.T) {
	kv := NewMemory()
	a := Prefixed(kv, "user-a")
	b := Prefixed(kv, "user-b")

	require.NoError(t, a.Set(context.Background(), KeyCurrency, []byte(`"JPY"`)))
	_, ok, _ := b.Get(context.Background(), KeyCurrency)
	assert.False(t, ok)

	raw, ok, _ := kv.Get(context.Background(), "user-a:"+KeyCurrency)
	assert.True(t, ok)
	assert.Equal(t, `"JPY"`, string(raw))

	require.NoError(t, a.Remove(context.Background(), KeyCurrency))
	_, ok, _ = kv.Get(context.Background(), "user-a:"+KeyCurrency)
	assert.False(t, ok)
}
