package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestHealthzAlwaysOK(t *testing.T) {
	srv := httptest.NewServer(healthRouter(fakePinger{}, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyzOKWhenDBHealthy(t *testing.T) {
	srv := httptest.NewServer(healthRouter(fakePinger{}, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyzFailsWhenDBUnreachable(t *testing.T) {
	srv := httptest.NewServer(healthRouter(fakePinger{err: errors.New("connection refused")}, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
