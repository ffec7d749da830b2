// Package paywall reacts to a vendor-rendered subscription paywall. The vendor
// UI owns presentation and purchase; this package only consumes its outcomes.
package paywall

import (
	"context"
	"slices"
	"time"

	"dailypa/internal/store"

	"go.uber.org/zap"
)

// CustomerInfo is the vendor's view of a customer after a purchase or restore.
type CustomerInfo struct {
	CustomerID         string
	ActiveEntitlements []string
	LatestExpiration   time.Time
	ManagementURL      string
}

// Entitlements is what the application unlocks.
type Entitlements struct {
	CustomerID string
	Active     []string
	ExpiresAt  time.Time
	UpdatedAt  time.Time
}

// Has reports whether entitlement id is active at now.
func (e Entitlements) Has(id string, now time.Time) bool {
	if !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(now) {
		return false
	}
	return slices.Contains(e.Active, id)
}

// Callbacks are invoked by the vendor UI.
type Callbacks struct {
	OnDismiss           func()
	OnPurchaseCompleted func(CustomerInfo)
	OnRestoreCompleted  func(CustomerInfo)
}

// Presenter shows the vendor paywall and reports back through cb. It returns
// once the paywall is on screen or fails to show.
type Presenter interface {
	Present(ctx context.Context, offering string, cb Callbacks) error
}

// Controller keeps the entitlement store in step with paywall outcomes.
type Controller struct {
	presenter    Presenter
	entitlements *store.Store[Entitlements]
	logger       *zap.Logger
	now          func() time.Time
}

// NewController creates a controller writing to entitlements.
func NewController(p Presenter, entitlements *store.Store[Entitlements], logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{presenter: p, entitlements: entitlements, logger: logger.Named("paywall"), now: time.Now}
}

// Show presents the paywall for offering.
func (c *Controller) Show(ctx context.Context, offering string) error {
	return c.presenter.Present(ctx, offering, c.Callbacks())
}

// Callbacks returns the handlers the vendor UI should call.
func (c *Controller) Callbacks() Callbacks {
	return Callbacks{
		OnDismiss: func() {
			c.logger.Debug("paywall dismissed")
		},
		OnPurchaseCompleted: func(info CustomerInfo) {
			c.apply("purchase", info)
		},
		OnRestoreCompleted: func(info CustomerInfo) {
			c.apply("restore", info)
		},
	}
}

func (c *Controller) apply(outcome string, info CustomerInfo) {
	next := c.entitlements.Update(func(Entitlements) Entitlements {
		return Entitlements{
			CustomerID: info.CustomerID,
			Active:     slices.Clone(info.ActiveEntitlements),
			ExpiresAt:  info.LatestExpiration,
			UpdatedAt:  c.now(),
		}
	})
	c.logger.Info("entitlements updated",
		zap.String("outcome", outcome),
		zap.String("customer_id", next.CustomerID),
		zap.Strings("active", next.Active))
}
