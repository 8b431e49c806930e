// Package pulsesink publishes run_list_uid structural changes onto a
// goa.design/pulse stream per running item, for external dashboards that
// want to tail run-open/close activity instead of polling re_runs. A thin
// Pulse client wrapper trimmed to the publish-only surface the run tracker
// actually needs.
package pulsesink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/bluesky-project/qserver/internal/runtracker"
)

// Options configures the Pulse-backed publisher.
type Options struct {
	// Redis is the Redis connection backing Pulse streams. Required.
	Redis *redis.Client
	// StreamMaxLen bounds the number of entries kept per stream. Zero uses
	// Pulse defaults.
	StreamMaxLen int
	// OperationTimeout bounds individual Add operations. Zero means no
	// timeout.
	OperationTimeout time.Duration
}

// Sink publishes run-list snapshots to Pulse streams named
// "runlist/<item_uid>", one entry per structural change.
type Sink struct {
	redis   *redis.Client
	maxLen  int
	timeout time.Duration
}

// NewSink constructs a Pulse-backed runtracker.Sink. opts.Redis is required.
func NewSink(opts Options) (*Sink, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &Sink{redis: opts.Redis, maxLen: opts.StreamMaxLen, timeout: opts.OperationTimeout}, nil
}

// envelope is the JSON shape written to the stream: a run-list record
// batch keyed by item rather than a single runtime event.
type envelope struct {
	RunListUID string               `json:"run_list_uid"`
	ItemUID    string               `json:"item_uid"`
	Timestamp  time.Time            `json:"timestamp"`
	Runs       []runtracker.Record  `json:"runs"`
}

// Publish implements runtracker.Sink.
func (s *Sink) Publish(ctx context.Context, itemUID string, runListUID string, records []runtracker.Record) error {
	var opts []streamopts.Stream
	if s.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(s.maxLen))
	}
	str, err := streaming.NewStream(fmt.Sprintf("runlist/%s", itemUID), s.redis, opts...)
	if err != nil {
		return fmt.Errorf("create pulse stream: %w", err)
	}
	env := envelope{RunListUID: runListUID, ItemUID: itemUID, Timestamp: time.Now().UTC(), Runs: records}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal run list envelope: %w", err)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := str.Add(ctx, "run_list_changed", payload); err != nil {
		return fmt.Errorf("pulse add: %w", err)
	}
	return nil
}

var _ runtracker.Sink = (*Sink)(nil)
