// Package attachments streams attachment files from Trello to a delivery sink,
// one attachment at a time.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"

	"github.com/stacklok/trello-extractor/internal/normalize"
	"github.com/stacklok/trello-extractor/internal/ratelimit"
)

// Descriptor identifies one attachment to stream
type Descriptor = normalize.Attachment

// Downloader opens an attachment URL. It performs exactly one upstream request.
type Downloader interface {
	DownloadAttachment(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Sink receives attachment streams
type Sink interface {
	// Deliver consumes body entirely or returns an error. A *BackpressureError
	// asks the caller to pause and retry the same attachment later.
	Deliver(ctx context.Context, d Descriptor, body io.Reader) error
}

// BackpressureError is returned by a Sink that cannot accept more data right now
type BackpressureError struct {
	Delay  time.Duration
	Reason string
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("sink backpressure: %s (retry in %s)", e.Reason, e.Delay)
}

// StreamError reports a failure to open one attachment
type StreamError struct {
	AttachmentID   string
	Classification ratelimit.Classification
	Err            error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("attachment %s: %s", e.AttachmentID, e.Classification.Message)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// State is the state of the attachments phase after Stream returns
type State string

const (
	// StateNotStarted means no descriptor was looked at
	StateNotStarted State = "NotStarted"

	// StateStreaming means the invocation ended before all descriptors were handled
	StateStreaming State = "Streaming"

	// StateDone means every descriptor was handled
	StateDone State = "Done"

	// StateDelayed means streaming paused and should resume after Delay
	StateDelayed State = "Delayed"

	// StateErrored means streaming stopped on a non-recoverable error
	StateErrored State = "Errored"
)

// Result summarizes one Stream call
type Result struct {
	State State

	// Delay is set when State is StateDelayed
	Delay time.Duration

	// Streamed counts attachments delivered by this call
	Streamed int

	// Failed lists attachments that could not be opened; they are not retried
	Failed []*StreamError

	// Err is set when State is StateErrored
	Err error
}

// Checkpoint durably records that the descriptor at index was handled
type Checkpoint func(ctx context.Context, index int) error

// Relay opens attachments and hands them to a sink
type Relay struct {
	downloader Downloader
	classifier ratelimit.Classifier
}

// NewRelay creates a relay downloading through d
func NewRelay(d Downloader) *Relay {
	return &Relay{downloader: d}
}

// Open performs one upstream request for d
func (r *Relay) Open(ctx context.Context, d Descriptor) (io.ReadCloser, *StreamError) {
	if d.URL == "" {
		return nil, &StreamError{
			AttachmentID:   d.ID,
			Classification: ratelimit.Classification{Kind: ratelimit.Fatal, Message: "attachment has no URL"},
			Err:            errors.New("attachment has no URL"),
		}
	}

	body, err := r.downloader.DownloadAttachment(ctx, d.URL)
	if err != nil {
		return nil, &StreamError{
			AttachmentID:   d.ID,
			Classification: r.classifier.Classify(err),
			Err:            err,
		}
	}
	return body, nil
}

// Stream hands descriptors[start:] to sink in order. checkpoint is called after
// every handled descriptor, including ones that failed to open.
func (r *Relay) Stream(ctx context.Context, descriptors []Descriptor, start int, sink Sink, checkpoint Checkpoint) Result {
	logger := logr.FromContextOrDiscard(ctx)

	if start >= len(descriptors) {
		return Result{State: StateDone}
	}

	result := Result{State: StateNotStarted}
	for i := start; i < len(descriptors); i++ {
		if ctx.Err() != nil {
			if result.State == StateNotStarted {
				return result
			}
			return result.with(StateStreaming)
		}
		result.State = StateStreaming
		d := descriptors[i]

		body, streamErr := r.Open(ctx, d)
		if streamErr != nil {
			if ctx.Err() != nil {
				return result.with(StateStreaming)
			}
			if streamErr.Classification.Kind == ratelimit.Throttled {
				logger.Info("Attachment download throttled", "attachment", d.ID, "delay", streamErr.Classification.RetryDelay)
				result.Delay = streamErr.Classification.RetryDelay
				return result.with(StateDelayed)
			}
			logger.Info("Skipping attachment that failed to open", "attachment", d.ID, "reason", streamErr.Classification.Message)
			result.Failed = append(result.Failed, streamErr)
		} else {
			err := sink.Deliver(ctx, d, body)
			_ = body.Close()
			if err != nil {
				var bp *BackpressureError
				switch {
				case ctx.Err() != nil:
					return result.with(StateStreaming)
				case errors.As(err, &bp):
					logger.Info("Attachment sink requested a pause", "attachment", d.ID, "delay", bp.Delay)
					result.Delay = bp.Delay
					return result.with(StateDelayed)
				default:
					result.Err = fmt.Errorf("failed to deliver attachment %s: %w", d.ID, err)
					return result.with(StateErrored)
				}
			}
			result.Streamed++
		}

		if err := checkpoint(ctx, i); err != nil {
			result.Err = err
			return result.with(StateErrored)
		}
	}

	return result.with(StateDone)
}

func (r Result) with(s State) Result {
	r.State = s
	return r
}
