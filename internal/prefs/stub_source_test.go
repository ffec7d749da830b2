package prefs

import (
	"context"
	"errors"
	"time"

	"dailypa/internal/auth"
	"dailypa/internal/models"
)

type stubSource struct {
	*auth.Holder
}

func newStubSource() *stubSource {
	return &stubSource{Holder: auth.NewHolder(nil, nil, "")}
}

func (s *stubSource) SignInWithPassword(ctx context.Context, email, _ string) (*models.Session, error) {
	session := &models.Session{
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(time.Hour),
		UserID:      "u-" + email,
		User:        &models.User{ID: "u-" + email, Email: email},
	}
	return session, s.Replace(ctx, auth.EventSignedIn, session)
}

func (s *stubSource) SignUp(context.Context, string, string) (*models.User, *models.Session, error) {
	return nil, nil, errors.New("not supported")
}

func (s *stubSource) SignOut(ctx context.Context, _ string) error { return s.Clear(ctx) }

func (s *stubSource) ExchangeCode(context.Context, string) (*models.Session, error) {
	return nil, errors.New("not supported")
}

func (s *stubSource) RefreshSession(context.Context, string) (*models.Session, error) {
	return nil, errors.New("not supported")
}

func (s *stubSource) GetSession(ctx context.Context) (*models.Session, error) {
	return s.Current(ctx), nil
}

func (s *stubSource) GetUser(context.Context, string) (*models.User, error) {
	return nil, errors.New("not supported")
}

func (s *stubSource) ResetPasswordForEmail(context.Context, string, string) error { return nil }

func (s *stubSource) UpdatePassword(context.Context, string, string) (*models.User, error) {
	return nil, errors.New("not supported")
}

func (s *stubSource) OnAuthStateChange(fn func(auth.Event)) func() { return s.Subscribe(fn) }
