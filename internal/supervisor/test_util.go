package supervisor

import (
	"sort"
	"sync"

	"github.com/vmfltlwms/rollout/pkg/models"
)

// stubProber answers readiness probes without touching the network. Tests
// flip the error globally or per worker index to simulate workers that never
// come up or go unhealthy.
type stubProber struct {
	mu      sync.Mutex
	err     error
	byIndex map[int]error
}

func (p *stubProber) Probe(worker models.WorkerInstance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.byIndex[worker.Index]; ok {
		return err
	}
	return p.err
}

func (p *stubProber) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *stubProber) setErrFor(index int, err error) {
	p.mu.Lock()
	if p.byIndex == nil {
		p.byIndex = make(map[int]error)
	}
	p.byIndex[index] = err
	p.mu.Unlock()
}

// recordingUpstreams implements UpstreamBinding and keeps both the live
// address set and the full operation sequence for ordering assertions.
type recordingUpstreams struct {
	mu    sync.Mutex
	addrs map[string]bool
	ops   []string
}

func newRecordingUpstreams() *recordingUpstreams {
	return &recordingUpstreams{addrs: make(map[string]bool)}
}

func (r *recordingUpstreams) Register(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs[addr] = true
	r.ops = append(r.ops, "register "+addr)
	return nil
}

func (r *recordingUpstreams) Deregister(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.addrs, addr)
	r.ops = append(r.ops, "deregister "+addr)
}

func (r *recordingUpstreams) active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.addrs))
	for addr := range r.addrs {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

func (r *recordingUpstreams) operations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ops))
	copy(out, r.ops)
	return out
}
