package paywall

import (
	"context"
	"testing"
	"time"

	"dailypa/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// scriptedPresenter plays back one vendor outcome.
type scriptedPresenter struct {
	offering string
	outcome  func(Callbacks)
}

func (p *scriptedPresenter) Present(_ context.Context, offering string, cb Callbacks) error {
	p.offering = offering
	p.outcome(cb)
	return nil
}

func TestController(t *testing.T) {
	expires := time.Now().Add(30 * 24 * time.Hour)
	tests := []struct {
		name    string
		outcome func(Callbacks)
		want    []string
	}{
		{"dismiss leaves entitlements", func(cb Callbacks) { cb.OnDismiss() }, nil},
		{"purchase unlocks", func(cb Callbacks) {
			cb.OnPurchaseCompleted(CustomerInfo{CustomerID: "c1", ActiveEntitlements: []string{"pro"}, LatestExpiration: expires})
		}, []string{"pro"}},
		{"restore unlocks", func(cb Callbacks) {
			cb.OnRestoreCompleted(CustomerInfo{CustomerID: "c1", ActiveEntitlements: []string{"pro", "widgets"}})
		}, []string{"pro", "widgets"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ents := store.New(Entitlements{})
			p := &scriptedPresenter{outcome: tt.outcome}
			c := NewController(p, ents, zaptest.NewLogger(t))

			require.NoError(t, c.Show(context.Background(), "default"))
			assert.Equal(t, "default", p.offering)
			assert.Equal(t, tt.want, ents.Get().Active)
		})
	}
}

func TestEntitlements_Has(t *testing.T) {
	now := time.Now()
	e := Entitlements{Active: []string{"pro"}, ExpiresAt: now.Add(time.Hour)}
	assert.True(t, e.Has("pro", now))
	assert.False(t, e.Has("widgets", now))
	assert.False(t, e.Has("pro", now.Add(2*time.Hour)))
	assert.True(t, Entitlements{Active: []string{"pro"}}.Has("pro", now))
}
