package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetClassifiesStatus(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{status: http.StatusTooManyRequests, transient: true},
		{status: http.StatusServiceUnavailable, transient: true},
		{status: http.StatusRequestTimeout, transient: true},
		{status: http.StatusNotFound, transient: false},
		{status: http.StatusUnauthorized, transient: false},
		{status: http.StatusBadRequest, transient: false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("boom"))
			}))
			defer srv.Close()

			_, err := Get(context.Background(), srv.Client(), "fake", "X", srv.URL, nil)
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, !tt.transient, IsPermanent(err))

			var se *Error
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.Status)
			if tt.transient {
				assert.Equal(t, 7*time.Second, RetryAfter(err))
			}
		})
	}
}

func TestGetReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, err := Get(context.Background(), srv.Client(), "fake", "X", srv.URL, http.Header{"X-Test": {"yes"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := Get(context.Background(), NewHTTPClient(time.Second), "fake", "X", url, nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestCanceledContextIsNotSourceError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := FromTransport("fake", "X", ctx.Err())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))
	assert.False(t, IsPermanent(err))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: ErrPermanent, Adapter: "fred", Item: "UNRATE", Status: 404, Err: errors.New("fred api error: not found")}
	assert.Equal(t, "permanent source error [fred UNRATE] (status 404): fred api error: not found", err.Error())
}
