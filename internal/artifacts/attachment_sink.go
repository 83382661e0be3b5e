package artifacts

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/stacklok/trello-extractor/internal/attachments"
)

const attachmentsDirName = "attachment-files"

// DefaultBackpressureDelay is requested once the byte budget of an invocation is spent
const DefaultBackpressureDelay = 60 * time.Second

// AttachmentSink writes attachment streams into the run directory.
// When maxBytes is positive it stops accepting attachments once that many
// bytes were written during its lifetime, which is one invocation.
type AttachmentSink struct {
	dir      string
	maxBytes int64
	written  int64
}

// NewAttachmentSink creates a sink storing files under the run directory
func NewAttachmentSink(run *Run, maxBytes int64) *AttachmentSink {
	return &AttachmentSink{
		dir:      filepath.Join(run.Dir(), attachmentsDirName),
		maxBytes: maxBytes,
	}
}

// Deliver implements attachments.Sink
func (s *AttachmentSink) Deliver(ctx context.Context, d attachments.Descriptor, body io.Reader) error {
	if s.maxBytes > 0 && s.written >= s.maxBytes {
		return &attachments.BackpressureError{
			Delay:  DefaultBackpressureDelay,
			Reason: fmt.Sprintf("attachment byte budget of %d exhausted", s.maxBytes),
		}
	}

	dir := filepath.Join(s.dir, url.PathEscape(d.ParentID))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create attachment directory: %w", err)
	}

	path := filepath.Join(dir, url.PathEscape(d.ID))
	tempPath := path + ".tmp"
	// #nosec G304 -- path is inside the run directory
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create attachment file: %w", err)
	}

	n, err := io.Copy(file, contextReader{ctx: ctx, r: body})
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write attachment %s: %w", d.ID, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to store attachment %s: %w", d.ID, err)
	}

	s.written += n
	return nil
}

// Written returns the number of bytes stored so far
func (s *AttachmentSink) Written() int64 {
	return s.written
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
