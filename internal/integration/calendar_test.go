package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dailypa/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendar_DisabledIsNoop(t *testing.T) {
	c := NewCalendar("", nil, 0)
	assert.False(t, c.Enabled())
	assert.NoError(t, c.Setup(context.Background(), "u1", "tok"))

	var nilCal *Calendar
	assert.False(t, nilCal.Enabled())
}

func TestCalendar_PostsUserWithBearer(t *testing.T) {
	var gotAuth string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	require.NoError(t, NewCalendar(srv.URL, srv.Client(), time.Second).Setup(context.Background(), "u1", "tok"))
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, map[string]string{"user_id": "u1"}, got)
}

func TestCalendar_FailuresAreIntegrationErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewCalendar(srv.URL, srv.Client(), time.Second).Setup(context.Background(), "u1", "tok")
	var ie *auth.IntegrationError
	require.True(t, errors.As(err, &ie))
	assert.Contains(t, err.Error(), "502")
}

func TestCalendar_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := NewCalendar(srv.URL, srv.Client(), 20*time.Millisecond).Setup(context.Background(), "u1", "tok")
	var ie *auth.IntegrationError
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
