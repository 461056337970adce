package proxy

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/vmfltlwms/rollout/internal/metrics"
	"github.com/vmfltlwms/rollout/pkg/models"
)

// UpstreamSet holds the proxy's current view of routable worker endpoints.
// Writers (the supervisor and the deployment controller) mutate it under a
// lock; the dispatch path reads an immutable snapshot through an atomic
// pointer, so a reader observes either the old or the new endpoint list,
// never a torn mix. Insertion order is rotation order.
type UpstreamSet struct {
	mu       sync.Mutex
	snapshot atomic.Value // []string
	next     uint64
	metrics  *metrics.Collector
}

// NewUpstreamSet returns an empty upstream set.
func NewUpstreamSet(collector *metrics.Collector) *UpstreamSet {
	s := &UpstreamSet{metrics: collector}
	s.snapshot.Store([]string{})
	return s
}

// Register adds addr to the rotation. Registering an already-known address is
// a no-op. The address must be a valid host:port pair.
func (s *UpstreamSet) Register(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return &models.ProxyRoutingError{Addr: addr, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.snapshot.Load().([]string)
	for _, existing := range current {
		if existing == addr {
			return nil
		}
	}

	updated := make([]string, 0, len(current)+1)
	updated = append(updated, current...)
	updated = append(updated, addr)
	s.snapshot.Store(updated)
	s.metrics.SetUpstreams(len(updated))
	return nil
}

// Deregister removes addr from the rotation. No new connection is routed to
// the address after Deregister returns; in-flight connections finish on their
// own. Deregistering an unknown address is a no-op.
func (s *UpstreamSet) Deregister(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.snapshot.Load().([]string)
	updated := make([]string, 0, len(current))
	for _, existing := range current {
		if existing != addr {
			updated = append(updated, existing)
		}
	}
	if len(updated) == len(current) {
		return
	}
	s.snapshot.Store(updated)
	s.metrics.SetUpstreams(len(updated))
}

// Next picks the next endpoint round-robin. It never blocks on control-plane
// operations beyond loading the current snapshot.
func (s *UpstreamSet) Next() (string, error) {
	current := s.snapshot.Load().([]string)
	if len(current) == 0 {
		return "", models.ErrNoUpstreams
	}
	n := atomic.AddUint64(&s.next, 1)
	return current[(n-1)%uint64(len(current))], nil
}

// Snapshot returns the current endpoint list in rotation order.
func (s *UpstreamSet) Snapshot() []string {
	current := s.snapshot.Load().([]string)
	out := make([]string, len(current))
	copy(out, current)
	return out
}

// Len returns the number of routable endpoints.
func (s *UpstreamSet) Len() int {
	return len(s.snapshot.Load().([]string))
}
