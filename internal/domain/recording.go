package domain

import "time"

// RecordingArtifact is the durable record of a finished (or muxer-dead)
// recording: where the container file landed and how long capture ran. The
// live capture state stays in memory inside the recording controller.
type RecordingArtifact struct {
	ID         string
	RoomID     string
	CallID     string
	Path       string
	HasVideo   bool
	StartedAt  time.Time
	EndedAt    time.Time
	DurationMS int64
}
