package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vmfltlwms/rollout/internal/metrics"
	"github.com/vmfltlwms/rollout/pkg/models"
	"go.uber.org/zap"
)

func newTestServer(set *UpstreamSet) *Server {
	return NewServer(set, models.ProxyConfig{}, metrics.NewCollector("test"), zap.NewNop().Sugar())
}

func TestDispatchRoutesToUpstream(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "hello from backend, proto=%s host=%s",
			r.Header.Get("X-Forwarded-Proto"), r.Header.Get("X-Forwarded-Host"))
	}))
	defer backend.Close()

	backendURL, err := url.Parse(backend.URL)
	assert.NoError(t, err)

	set := newTestSet()
	assert.NoError(t, set.Register(backendURL.Host))

	front := httptest.NewServer(newTestServer(set).Handler())
	defer front.Close()

	resp, err := http.Get(front.URL + "/some/path")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.Contains(t, string(body), "hello from backend")
	assert.Contains(t, string(body), "proto=http")
}

func TestDispatchBalancesAcrossUpstreams(t *testing.T) {
	hits := make(map[string]int)
	var backends []*httptest.Server
	set := newTestSet()

	for i := 0; i < 2; i++ {
		name := fmt.Sprintf("backend-%d", i)
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits[name]++
			fmt.Fprint(w, name)
		}))
		backends = append(backends, backend)
		u, _ := url.Parse(backend.URL)
		assert.NoError(t, set.Register(u.Host))
	}
	defer func() {
		for _, b := range backends {
			b.Close()
		}
	}()

	front := httptest.NewServer(newTestServer(set).Handler())
	defer front.Close()

	for i := 0; i < 4; i++ {
		resp, err := http.Get(front.URL)
		assert.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, 2, hits["backend-0"])
	assert.Equal(t, 2, hits["backend-1"])
}

func TestDispatchWithoutUpstreams(t *testing.T) {
	front := httptest.NewServer(newTestServer(newTestSet()).Handler())
	defer front.Close()

	resp, err := http.Get(front.URL)
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestDispatchSkipsDeregisteredUpstream(t *testing.T) {
	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "alive")
	}))
	defer alive.Close()
	aliveURL, _ := url.Parse(alive.URL)

	set := newTestSet()
	assert.NoError(t, set.Register("127.0.0.1:1")) // nothing listens here
	assert.NoError(t, set.Register(aliveURL.Host))
	set.Deregister("127.0.0.1:1")

	front := httptest.NewServer(newTestServer(set).Handler())
	defer front.Close()

	// Every request must hit the live backend now that the dead endpoint is
	// out of rotation.
	for i := 0; i < 3; i++ {
		resp, err := http.Get(front.URL)
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestDispatchReportsUpstreamFailure(t *testing.T) {
	set := newTestSet()
	assert.NoError(t, set.Register("127.0.0.1:1"))

	front := httptest.NewServer(newTestServer(set).Handler())
	defer front.Close()

	resp, err := http.Get(front.URL)
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
