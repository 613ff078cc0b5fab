package sfu

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
)

// Worker is a media-processing unit. mediasoup runs one OS process per
// worker; here a Worker is a dedicated *webrtc.API (MediaEngine + DTLS
// certificate + SettingEngine) plus a health channel. Workers are never
// recreated: a dead worker invalidates every router/transport it hosts, so
// its death is fatal to the process, mirrored by closing deadCh and
// letting the caller os.Exit after a grace period.
type Worker struct {
	Index int

	api         *webrtc.API
	certificate webrtc.Certificate

	roomCount atomic.Int64
	deadCh    chan struct{}
	deadOnce  sync.Once
}

func newWorker(idx int, announcedIP string, portMin, portMax uint16) (*Worker, error) {
	m := &webrtc.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, fmt.Errorf("worker %d: register codecs: %w", idx, err)
	}

	se := webrtc.SettingEngine{}
	if announcedIP != "" {
		se.SetNAT1To1IPs([]string{announcedIP}, webrtc.ICECandidateTypeHost)
	}
	if portMin > 0 && portMax >= portMin {
		if err := se.SetEphemeralUDPPortRange(portMin, portMax); err != nil {
			return nil, fmt.Errorf("worker %d: udp port range: %w", idx, err)
		}
	}

	sk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("worker %d: certificate key: %w", idx, err)
	}
	cert, err := webrtc.GenerateCertificate(sk)
	if err != nil {
		return nil, fmt.Errorf("worker %d: certificate: %w", idx, err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	return &Worker{
		Index:       idx,
		api:         api,
		certificate: *cert,
		deadCh:      make(chan struct{}),
	}, nil
}

// Dead reports death to anything awaiting worker termination; fatal handling
// (process abort after a grace period) lives in cmd/server, which selects on
// every worker's Dead() channel.
func (w *Worker) Dead() <-chan struct{} { return w.deadCh }

func (w *Worker) markDead(log *slog.Logger, err error) {
	w.deadOnce.Do(func() {
		log.Error("media worker died", slog.Int("worker", w.Index), slog.Any("error", err))
		close(w.deadCh)
	})
}

// WorkerPool creates N = NumCPU workers at startup and assigns rooms to them
// round-robin.
type WorkerPool struct {
	workers []*Worker
	next    atomic.Uint64
}

func NewWorkerPool(announcedIP string, portMin, portMax uint16) (*WorkerPool, error) {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	pool := &WorkerPool{workers: make([]*Worker, n)}
	for i := 0; i < n; i++ {
		w, err := newWorker(i, announcedIP, portMin, portMax)
		if err != nil {
			return nil, err
		}
		pool.workers[i] = w
	}
	return pool, nil
}

func (p *WorkerPool) Next() *Worker {
	idx := p.next.Add(1) % uint64(len(p.workers))
	w := p.workers[idx]
	w.roomCount.Add(1)
	return w
}

func (p *WorkerPool) Workers() []*Worker { return p.workers }
