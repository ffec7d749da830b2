// Package guard decides whether a caller may see a protected or public-only
// area and redirects them when not.
package guard

import (
	"dailypa/internal/models"
	"dailypa/internal/store"
)

// Kind is the area a guard protects.
type Kind int

const (
	// Protected areas need a live session.
	Protected Kind = iota
	// PublicOnly areas (sign-in, sign-up) are for callers without one.
	PublicOnly
)

func (k Kind) String() string {
	if k == PublicOnly {
		return "public-only"
	}
	return "protected"
}

// Action is what the caller should do with the navigation.
type Action int

const (
	Render Action = iota
	Redirect
	// Pending means the session is still loading; render neither.
	Pending
)

const (
	SignInPath  = "/login"
	LandingPath = "/dashboard"
)

// Decision is the outcome of a guard check.
type Decision struct {
	Action   Action
	Location string
}

// Evaluate is the rule shared by every surface. devSkip bypasses both guards.
func Evaluate(kind Kind, authenticated, devSkip bool) Decision {
	if devSkip {
		return Decision{Action: Render}
	}
	switch kind {
	case Protected:
		if !authenticated {
			return Decision{Action: Redirect, Location: SignInPath}
		}
	case PublicOnly:
		if authenticated {
			return Decision{Action: Redirect, Location: LandingPath}
		}
	}
	return Decision{Action: Render}
}

// FromStore evaluates kind against a local auth state store, for hosts that
// keep the session in process rather than in cookies.
func FromStore(states *store.Store[models.AuthState], kind Kind, devSkip bool) Decision {
	s := states.Get()
	if s.IsLoading && !devSkip {
		return Decision{Action: Pending}
	}
	return Evaluate(kind, s.IsAuthenticated(), devSkip)
}
