// Package resource implements the Resource Governor (spec §4.J): named,
// recyclable HTTP client pools and response-buffer reclamation, so the
// long-lived sync loops in blockwalk/ and peersync/ never construct an
// ad-hoc client per call.
//
// No retry or backoff happens here: the pools only hand out clients. The
// pooling is a deliberate departure from http/client.go's
// executeOnce, which builds a fresh *http.Client per call — exactly the
// pattern spec §4.J forbids in sync and peer-sync loops. storage/s3aws.go's
// single tuned sharedHTTPClient is the nearer analogue, generalized here to
// several independently named, independently recycled pools.
package resource

import (
	"net/http"
	"sync"
	"time"

	"oip.network/indexd/logging"
)

// Pool is one named, long-lived HTTP client with bounded per-host
// concurrency. It is swapped out wholesale on recycle rather than mutated in
// place, so in-flight requests on the old client finish undisturbed.
type Pool struct {
	name string
	mu   sync.RWMutex
	cur  *http.Client

	maxIdlePerHost int
	timeout        time.Duration
	log            *logging.Fields
}

// NewPool creates a named pool. maxIdlePerHost bounds per-host concurrency,
// per §4.J's "explicitly named HTTP connection pool with bounded per-host
// concurrency".
func NewPool(name string, maxIdlePerHost int, timeout time.Duration) *Pool {
	p := &Pool{
		name:           name,
		maxIdlePerHost: maxIdlePerHost,
		timeout:        timeout,
		log:            logging.New("resource").With(map[string]interface{}{"pool": name}),
	}
	p.cur = p.newClient()
	return p
}

func (p *Pool) newClient() *http.Client {
	return &http.Client{
		Timeout: p.timeout,
		Transport: &http.Transport{
			MaxIdleConns:        p.maxIdlePerHost * 4,
			MaxIdleConnsPerHost: p.maxIdlePerHost,
			MaxConnsPerHost:     p.maxIdlePerHost,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Client returns the currently active *http.Client. Callers must not retain
// it across a long idle period — fetch it again per call so a concurrent
// Recycle is picked up.
func (p *Pool) Client() *http.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cur
}

// Recycle replaces the pool's client with a fresh one, closing idle
// connections on the old one. Bounds native-memory buffer growth across the
// tens of thousands of short poll calls a sync loop makes over its lifetime.
func (p *Pool) Recycle() {
	p.mu.Lock()
	old := p.cur
	p.cur = p.newClient()
	p.mu.Unlock()

	old.CloseIdleConnections()
	p.log.Debug("http client pool recycled")
}

// StartRecycler runs Recycle on a fixed interval until ctx-like stop is
// closed. Matches §4.J's "recycle at a fixed interval (default 30 min)" and
// §9's "independent long-lived task with an explicit ticker and a
// cooperative cancel signal".
func (p *Pool) StartRecycler(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Recycle()
			case <-stop:
				return
			}
		}
	}()
}

const (
	largeJSONThreshold = 100 * 1024 // bytes, per spec §4.J
	jsonReleaseDelay   = 2 * time.Second
)

// ReleaseJSON schedules payload to be overwritten ~2s after the caller has
// extracted what it needs, for any JSON response over 100KB (spec §4.J).
// Payloads under the threshold are left alone — the delay exists to bound
// buffer accumulation from many large polls, not to scrub small ones.
func ReleaseJSON(payload *[]byte) {
	if payload == nil || len(*payload) <= largeJSONThreshold {
		return
	}
	p := payload
	time.AfterFunc(jsonReleaseDelay, func() {
		for i := range *p {
			(*p)[i] = 0
		}
		*p = nil
	})
}

// ReleaseBinary releases a binary payload (audio/image) immediately after
// the caller has copied or streamed the bytes it needed, per §4.J.
func ReleaseBinary(payload *[]byte) {
	if payload == nil {
		return
	}
	*payload = nil
}
