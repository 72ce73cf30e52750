// internal/stream/streamer.go

// Package stream publishes live viewport frames for sessions being recorded.
// Frames ride the ordinary event stream as RECORDING_FRAME events so the
// recording pipeline consumes one feed for both lifecycle and video data.
package stream

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/demodrive-ai/demodrive/api/schemas"
	"github.com/demodrive-ai/demodrive/internal/config"
)

// Source is the slice of a running session the streamer reads.
type Source interface {
	// LastScreenshot returns the most recent viewport capture, or nil.
	LastScreenshot() []byte
	// State reports the session lifecycle state; streaming stops on terminal.
	State() schemas.SessionState
}

// Streamer follows sessions and emits their frames at a bounded rate.
type Streamer struct {
	sink   schemas.EventSink
	fps    float64
	logger *zap.Logger

	group *errgroup.Group
	ctx   context.Context
}

// NewStreamer builds a streamer bound to the given context; Follow goroutines
// stop when it is cancelled.
func NewStreamer(ctx context.Context, cfg config.StreamConfig, sink schemas.EventSink, logger *zap.Logger) (*Streamer, error) {
	if sink == nil {
		return nil, errors.New("stream: event sink is required")
	}
	if logger == nil {
		return nil, errors.New("stream: logger is required")
	}
	fps := cfg.FPS
	if fps <= 0 {
		fps = 2.0
	}

	group, groupCtx := errgroup.WithContext(ctx)
	return &Streamer{
		sink:   sink,
		fps:    fps,
		logger: logger.Named("frame_streamer"),
		group:  group,
		ctx:    groupCtx,
	}, nil
}

// Follow starts streaming frames for one session in the background.
func (s *Streamer) Follow(sessionID string, src Source) {
	s.group.Go(func() error {
		s.stream(s.ctx, sessionID, src)
		// A single session ending is not a streamer failure.
		return nil
	})
}

// Wait blocks until every followed session has finished streaming.
func (s *Streamer) Wait() error {
	return s.group.Wait()
}

// stream polls the source at the configured rate and emits changed frames.
// Identical consecutive captures are suppressed.
func (s *Streamer) stream(ctx context.Context, sessionID string, src Source) {
	limiter := rate.NewLimiter(rate.Limit(s.fps), 1)
	log := s.logger.With(zap.String("session_id", sessionID))
	log.Info("Frame streaming started.", zap.Float64("fps", s.fps))
	defer log.Info("Frame streaming stopped.")

	var lastFrame []byte
	sequence := 0

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if src.State().IsTerminal() {
			return
		}

		frame := src.LastScreenshot()
		if frame == nil || bytes.Equal(frame, lastFrame) {
			continue
		}
		lastFrame = frame
		sequence++

		ev := schemas.Event{
			ID:        uuid.NewString(),
			Type:      schemas.EventRecordingFrame,
			SessionID: sessionID,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"sequence":     sequence,
				"frame_base64": base64.StdEncoding.EncodeToString(frame),
				"content_type": "image/png",
			},
		}
		if err := s.sink.Emit(ctx, ev); err != nil {
			log.Warn("Frame delivery failed.", zap.Error(err))
		}
	}
}
