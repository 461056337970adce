package supervisor

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vmfltlwms/rollout/pkg/models"
)

// ReadinessProber checks whether a worker instance is ready to take traffic.
// The probe mechanism is pluggable per application; the default speaks HTTP
// to the worker's assigned port.
type ReadinessProber interface {
	Probe(worker models.WorkerInstance) error
}

// HTTPProber probes the worker's readiness path and treats any 2xx answer as
// ready.
type HTTPProber struct {
	client *resty.Client
	path   string
}

// NewHTTPProber creates a prober for the given readiness path with a per-probe
// timeout.
func NewHTTPProber(path string, timeout time.Duration) *HTTPProber {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetDisableWarn(true)
	return &HTTPProber{
		client: client,
		path:   path,
	}
}

// Client exposes the underlying resty client so tests can intercept it.
func (p *HTTPProber) Client() *resty.Client {
	return p.client
}

// Probe performs one readiness check against the worker.
func (p *HTTPProber) Probe(worker models.WorkerInstance) error {
	resp, err := p.client.R().Get(fmt.Sprintf("http://%s%s", worker.Address(), p.path))
	if err != nil {
		return fmt.Errorf("readiness probe failed for worker %d: %v", worker.Index, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return fmt.Errorf("readiness probe for worker %d returned status %d", worker.Index, resp.StatusCode())
	}
	return nil
}
