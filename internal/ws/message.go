package ws

import (
	"time"

	"vqd/internal/stream"
)

// ResultMessage is the wire envelope for one live diagnosis push.
type ResultMessage struct {
	Type      string        `json:"type"` // "diagnosis"
	StreamID  string        `json:"stream_id"`
	Timestamp time.Time     `json:"timestamp"`
	Result    stream.Result `json:"result"`
}

// NewResultMessage wraps a stream result for broadcast.
func NewResultMessage(r stream.Result) *ResultMessage {
	return &ResultMessage{
		Type:      "diagnosis",
		StreamID:  r.StreamID,
		Timestamp: r.Timestamp,
		Result:    r,
	}
}
