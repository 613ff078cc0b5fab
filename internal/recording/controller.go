// Package recording owns the auto-recording controller: the trigger policy
// that starts and stops capture based on call composition, the RTP tap
// pipeline feeding the external muxer, and artifact finalization. It is the
// single writer of a room's recording state.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/meshcall/core/internal/config"
	"github.com/meshcall/core/internal/domain"
	"github.com/meshcall/core/internal/logging/sl"
	"github.com/meshcall/core/internal/metrics"
	"github.com/meshcall/core/internal/repository"
	"github.com/meshcall/core/internal/sfu"
)

const (
	// muxerWarmup gives the muxer time to bind its UDP sockets before any
	// consumer is resumed. Resuming earlier drops the initial packets.
	muxerWarmup = time.Second

	portPickAttempts = 16
)

// tap is one producer's RTP path into the muxer: a plain transport on
// loopback, a paused consumer, and the SDP file describing the stream.
type tap struct {
	transport *sfu.PlainTransport
	consumer  *sfu.PlainConsumer
	producer  *sfu.Producer
	kind      sfu.MediaKind
	peerID    string
	udpPort   int
	sdpPath   string
}

// Recording is the in-memory capture state for one room. Ongoing reports it
// from the start trigger until stop or a failed start removes it; a muxer
// process that exits on its own does not end it.
type Recording struct {
	ID         string
	RoomID     string
	CallID     string
	StartTime  time.Time
	OutputPath string
	HasVideo   bool

	muxer *Muxer
	taps  []*tap

	ready  chan struct{}
	failed bool
}

type Controller struct {
	log       *slog.Logger
	cfg       config.RecordingConfig
	metrics   *metrics.Metrics
	calls     repository.CallRepository
	artifacts repository.RecordingRepository

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.Mutex
	active map[string]*Recording // room id -> recording
}

func NewController(cfg config.RecordingConfig, calls repository.CallRepository, artifacts repository.RecordingRepository, m *metrics.Metrics, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		log:       log,
		cfg:       cfg,
		metrics:   m,
		calls:     calls,
		artifacts: artifacts,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		active:    make(map[string]*Recording),
	}
}

// shouldStart is the start policy: no recording yet and at least two peers
// each holding a producer.
func shouldStart(ongoing bool, producingPeers int) bool {
	return !ongoing && producingPeers >= 2
}

// shouldStop is the stop policy: an active recording and fewer than two
// peers left.
func shouldStop(ongoing bool, peers int) bool {
	return ongoing && peers < 2
}

// ProducerAdded is the start trigger. Producers arriving after the recording
// started are not added to the ongoing mix.
func (c *Controller) ProducerAdded(ctx context.Context, room *sfu.Room) {
	c.mu.Lock()
	_, ongoing := c.active[room.ID]
	if !shouldStart(ongoing, room.ProducingPeerCount()) {
		c.mu.Unlock()
		return
	}
	rec := &Recording{RoomID: room.ID, ready: make(chan struct{})}
	c.active[room.ID] = rec
	c.mu.Unlock()

	// The warmup delay must not stall the produce ack; stop waits on
	// rec.ready, so teardown can never overtake a start in flight.
	go c.start(context.WithoutCancel(ctx), room, rec)
}

// PeerRemoved is the stop trigger.
func (c *Controller) PeerRemoved(ctx context.Context, room *sfu.Room) {
	if !shouldStop(c.Ongoing(room.ID), room.PeerCount()) {
		return
	}
	c.stop(ctx, room.ID)
}

// RoomClosed stops any capture the peer-removal path didn't already end.
func (c *Controller) RoomClosed(ctx context.Context, room *sfu.Room) {
	c.stop(ctx, room.ID)
}

func (c *Controller) start(ctx context.Context, room *sfu.Room, rec *Recording) {
	const op = "recording.start"
	log := c.log.With(slog.String("op", op), slog.String("room_id", room.ID))

	defer close(rec.ready)

	abort := func() {
		rec.failed = true
		c.mu.Lock()
		delete(c.active, room.ID)
		c.mu.Unlock()
		c.metrics.RecordingFailed()
	}

	producers := room.Producers()
	if len(producers) == 0 {
		abort()
		return
	}

	rec.ID = fmt.Sprintf("%s_%d", room.ID, time.Now().UnixMilli())
	rec.StartTime = time.Now().UTC()
	for _, p := range producers {
		if p.Kind() == sfu.KindVideo {
			rec.HasVideo = true
			break
		}
	}
	ext := ".mp3"
	if rec.HasVideo {
		ext = ".mp4"
	}
	rec.OutputPath = filepath.Join(c.cfg.OutputDir, rec.ID+ext)

	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		log.Error("cannot create recordings dir", sl.Err(err))
		abort()
		return
	}

	// Audio taps first so their SDP files occupy the muxer's leading input
	// indices; the filter graph depends on that ordering.
	ordered := make([]*sfu.Producer, 0, len(producers))
	for _, p := range producers {
		if p.Kind() == sfu.KindAudio {
			ordered = append(ordered, p)
		}
	}
	for _, p := range producers {
		if p.Kind() == sfu.KindVideo {
			ordered = append(ordered, p)
		}
	}

	usedPorts := make(map[int]struct{})
	var audioSDPs, videoSDPs []string
	for i, producer := range ordered {
		t, err := c.buildTap(rec, producer, i, usedPorts)
		if err != nil {
			// One broken tap does not sink the recording.
			log.Warn("skipping tap", slog.String("producer_id", producer.ID()), sl.Err(err))
			continue
		}
		rec.taps = append(rec.taps, t)
		if t.kind == sfu.KindAudio {
			audioSDPs = append(audioSDPs, t.sdpPath)
		} else {
			videoSDPs = append(videoSDPs, t.sdpPath)
		}
	}
	if len(audioSDPs) == 0 {
		log.Error("no usable audio taps, aborting recording")
		c.teardownTaps(rec, log)
		abort()
		return
	}

	args := buildMuxerArgs(audioSDPs, videoSDPs, rec.HasVideo, rec.OutputPath)
	muxer, err := startMuxer(log, c.cfg.MuxerBinary, args)
	if err != nil {
		log.Error("muxer spawn failed, aborting recording", sl.Err(err))
		c.teardownTaps(rec, log)
		abort()
		return
	}
	rec.muxer = muxer

	// Let the muxer bind its sockets, then open the taps in order. Video
	// taps also ask the sender for a fresh keyframe.
	time.Sleep(muxerWarmup)
	for _, t := range rec.taps {
		t.consumer.Resume()
		if t.kind == sfu.KindVideo {
			if err := t.producer.RequestKeyFrame(); err != nil {
				log.Debug("keyframe request failed", slog.String("producer_id", t.producer.ID()), sl.Err(err))
			}
		}
	}

	if call, err := c.calls.GetByRoomID(ctx, room.ID); err == nil {
		rec.CallID = call.ID
	} else if !errors.Is(err, repository.ErrNotFound) {
		log.Warn("call lookup for recording failed", sl.Err(err))
	}

	c.metrics.RecordingStarted()
	log.Info("recording started",
		slog.String("recording_id", rec.ID),
		slog.String("output", rec.OutputPath),
		slog.Bool("has_video", rec.HasVideo),
		slog.Int("taps", len(rec.taps)))
}

func (c *Controller) buildTap(rec *Recording, producer *sfu.Producer, idx int, usedPorts map[int]struct{}) (*tap, error) {
	params := producer.Params()
	if len(params.Codecs) == 0 {
		return nil, fmt.Errorf("producer %s has no codec parameters", producer.ID())
	}
	codec := params.Codecs[0]

	port, err := c.pickPort(usedPorts)
	if err != nil {
		return nil, err
	}

	transport, err := sfu.NewPlainTransport("127.0.0.1", port)
	if err != nil {
		return nil, err
	}

	sdpBytes, err := buildTapSDP(producer.Kind(), codec, port)
	if err != nil {
		transport.Close()
		return nil, err
	}
	sdpPath := filepath.Join(c.cfg.OutputDir, fmt.Sprintf("%s_%d.sdp", rec.ID, idx))
	if err := os.WriteFile(sdpPath, sdpBytes, 0o644); err != nil {
		transport.Close()
		return nil, fmt.Errorf("write sdp: %w", err)
	}

	consumer := sfu.NewPlainConsumer(transport, producer)
	return &tap{
		transport: transport,
		consumer:  consumer,
		producer:  producer,
		kind:      producer.Kind(),
		peerID:    producer.PeerID(),
		udpPort:   port,
		sdpPath:   sdpPath,
	}, nil
}

// pickPort draws random ports from the configured window until one probes
// bindable and is unused within this recording.
func (c *Controller) pickPort(used map[int]struct{}) (int, error) {
	span := c.cfg.UDPPortMax - c.cfg.UDPPortMin
	if span <= 0 {
		return 0, fmt.Errorf("invalid udp port window %d-%d", c.cfg.UDPPortMin, c.cfg.UDPPortMax)
	}
	for attempt := 0; attempt < portPickAttempts; attempt++ {
		c.rngMu.Lock()
		port := c.cfg.UDPPortMin + c.rng.Intn(span)
		c.rngMu.Unlock()
		if _, taken := used[port]; taken {
			continue
		}
		if !sfu.ProbeUDPPort(port) {
			continue
		}
		used[port] = struct{}{}
		return port, nil
	}
	return 0, fmt.Errorf("no free udp port in %d-%d after %d attempts", c.cfg.UDPPortMin, c.cfg.UDPPortMax, portPickAttempts)
}

func (c *Controller) stop(ctx context.Context, roomID string) {
	const op = "recording.stop"

	c.mu.Lock()
	rec, ok := c.active[roomID]
	if ok {
		delete(c.active, roomID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	<-rec.ready
	if rec.failed {
		return
	}

	log := c.log.With(slog.String("op", op), slog.String("room_id", roomID), slog.String("recording_id", rec.ID))

	if rec.muxer != nil {
		if !rec.muxer.Alive() {
			// Muxer died early; whatever it flushed stays on disk.
			log.Warn("muxer was already dead at stop", slog.String("output", rec.OutputPath))
		}
		rec.muxer.Stop()
	}
	c.teardownTaps(rec, log)

	endedAt := time.Now().UTC()
	duration := endedAt.Sub(rec.StartTime)
	c.metrics.RecordingStopped()
	log.Info("recording stopped",
		slog.String("output", rec.OutputPath),
		slog.Duration("duration", duration))

	if c.artifacts != nil {
		err := c.artifacts.Create(ctx, &domain.RecordingArtifact{
			ID:         rec.ID,
			RoomID:     rec.RoomID,
			CallID:     rec.CallID,
			Path:       rec.OutputPath,
			HasVideo:   rec.HasVideo,
			StartedAt:  rec.StartTime,
			EndedAt:    endedAt,
			DurationMS: duration.Milliseconds(),
		})
		if err != nil {
			log.Error("failed to persist recording artifact", sl.Err(err))
		}
	}
}

// teardownTaps closes consumers and transports and removes every SDP file
// before returning.
func (c *Controller) teardownTaps(rec *Recording, log *slog.Logger) {
	for _, t := range rec.taps {
		t.consumer.Close()
		t.transport.Close()
		if err := os.Remove(t.sdpPath); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove sdp file", slog.String("path", t.sdpPath), sl.Err(err))
		}
	}
	rec.taps = nil
}

// Ongoing reports whether the room currently records.
func (c *Controller) Ongoing(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[roomID]
	return ok
}

// ListByCall returns the persisted artifacts for a call.
func (c *Controller) ListByCall(ctx context.Context, callID string) ([]*domain.RecordingArtifact, error) {
	if c.artifacts == nil {
		return []*domain.RecordingArtifact{}, nil
	}
	return c.artifacts.ListByCall(ctx, callID)
}

// StopAll ends every active recording, used on graceful shutdown.
func (c *Controller) StopAll(ctx context.Context) {
	c.mu.Lock()
	roomIDs := make([]string, 0, len(c.active))
	for id := range c.active {
		roomIDs = append(roomIDs, id)
	}
	c.mu.Unlock()
	for _, id := range roomIDs {
		c.stop(ctx, id)
	}
}
