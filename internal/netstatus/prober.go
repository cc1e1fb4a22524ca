package netstatus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/tetherlabs/tether/internal/logging"
)

// DefaultProbeInterval is how often the prober polls the backend.
const DefaultProbeInterval = 3 * time.Second

// Prober periodically issues a lightweight GET to the backend health path
// and folds the outcome into the aggregator:
//
//	2xx:             disconnected/error -> connected
//	non-2xx:         disconnected       -> error
//	transport error: connected/connecting -> disconnected
type Prober struct {
	agg      *Aggregator
	url      string
	interval time.Duration
	client   *http.Client
	log      logging.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

// NewProber probes healthURL every interval (DefaultProbeInterval when
// interval is zero or negative).
func NewProber(agg *Aggregator, healthURL string, interval time.Duration, log logging.Logger) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if log == nil {
		log = logging.Noop{}
	}
	return &Prober{
		agg:      agg,
		url:      healthURL,
		interval: interval,
		client:   &http.Client{Timeout: interval},
		log:      log,
	}
}

// Start begins probing. Calling Start on a running prober has no extra
// effect.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	go p.loop(p.stop)
}

// Stop halts probing and clears the timer. Idempotent.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stop)
	p.stop = nil
}

// Running reports whether the probe loop is active.
func (p *Prober) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Prober) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.ProbeOnce(context.Background())
		}
	}
}

// ProbeOnce performs a single liveness probe and applies the status
// transition. Returns true when the backend answered with 2xx.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.log.Error("build probe request", "error", err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		switch p.agg.Current() {
		case StatusConnected, StatusConnecting:
			p.agg.Set(StatusDisconnected)
		}
		p.log.Debug("liveness probe failed", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		switch p.agg.Current() {
		case StatusDisconnected, StatusError:
			p.agg.Set(StatusConnected)
		}
		return true
	}

	if p.agg.Current() == StatusDisconnected {
		p.agg.Set(StatusError)
	}
	p.log.Debug("liveness probe unhealthy", "status_code", resp.StatusCode)
	return false
}
