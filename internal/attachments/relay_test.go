package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/trello-extractor/internal/trello"
)

type fakeDownloader struct {
	responses map[string]error
	calls     []string
	onCall    func(url string)
}

func (f *fakeDownloader) DownloadAttachment(_ context.Context, url string) (io.ReadCloser, error) {
	f.calls = append(f.calls, url)
	if f.onCall != nil {
		f.onCall(url)
	}
	if err := f.responses[url]; err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader("content of " + url)), nil
}

type fakeSink struct {
	delivered map[string]string
	errFor    map[string]error
}

func newFakeSink() *fakeSink {
	return &fakeSink{delivered: map[string]string{}, errFor: map[string]error{}}
}

func (s *fakeSink) Deliver(_ context.Context, d Descriptor, body io.Reader) error {
	if err := s.errFor[d.ID]; err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	s.delivered[d.ID] = buf.String()
	return nil
}

type checkpoints struct {
	indexes []int
	err     error
}

func (c *checkpoints) record(_ context.Context, idx int) error {
	if c.err != nil {
		return c.err
	}
	c.indexes = append(c.indexes, idx)
	return nil
}

func descriptors(n int) []Descriptor {
	out := make([]Descriptor, n)
	for i := range out {
		out[i] = Descriptor{
			ID:       fmt.Sprintf("a%d", i+1),
			URL:      fmt.Sprintf("https://files.example.com/a%d", i+1),
			FileName: fmt.Sprintf("file%d.txt", i+1),
			ParentID: "c1",
		}
	}
	return out
}

func TestStream_PerItemFailureContinues(t *testing.T) {
	t.Parallel()

	ds := descriptors(5)
	downloader := &fakeDownloader{responses: map[string]error{
		ds[2].URL: &trello.APIError{StatusCode: http.StatusNotFound, Endpoint: "downloading attachment"},
	}}
	sink := newFakeSink()
	cp := &checkpoints{}

	result := NewRelay(downloader).Stream(context.Background(), ds, 0, sink, cp.record)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, 4, result.Streamed)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "a3", result.Failed[0].AttachmentID)
	assert.Len(t, sink.delivered, 4)
	assert.NotContains(t, sink.delivered, "a3")
	assert.Equal(t, []int{0, 1, 2, 3, 4}, cp.indexes)
	assert.Len(t, downloader.calls, 5)
}

func TestStream_ResumesAfterLastProcessed(t *testing.T) {
	t.Parallel()

	ds := descriptors(4)
	downloader := &fakeDownloader{}
	sink := newFakeSink()
	cp := &checkpoints{}

	result := NewRelay(downloader).Stream(context.Background(), ds, 2, sink, cp.record)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, 2, result.Streamed)
	assert.Equal(t, []int{2, 3}, cp.indexes)
	assert.Equal(t, []string{ds[2].URL, ds[3].URL}, downloader.calls)
}

func TestStream_NothingLeft(t *testing.T) {
	t.Parallel()

	result := NewRelay(&fakeDownloader{}).Stream(context.Background(), descriptors(2), 2, newFakeSink(), (&checkpoints{}).record)
	assert.Equal(t, StateDone, result.State)
	assert.Zero(t, result.Streamed)
}

func TestStream_UpstreamThrottleDelaysWithoutCheckpoint(t *testing.T) {
	t.Parallel()

	ds := descriptors(3)
	downloader := &fakeDownloader{responses: map[string]error{
		ds[1].URL: &trello.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: "12"},
	}}
	cp := &checkpoints{}

	result := NewRelay(downloader).Stream(context.Background(), ds, 0, newFakeSink(), cp.record)

	assert.Equal(t, StateDelayed, result.State)
	assert.Equal(t, 12*time.Second, result.Delay)
	assert.Equal(t, []int{0}, cp.indexes)
	assert.Len(t, downloader.calls, 2)
}

func TestStream_SinkBackpressure(t *testing.T) {
	t.Parallel()

	ds := descriptors(3)
	sink := newFakeSink()
	sink.errFor["a2"] = fmt.Errorf("wrapped: %w", &BackpressureError{Delay: 30 * time.Second, Reason: "budget exhausted"})
	cp := &checkpoints{}

	result := NewRelay(&fakeDownloader{}).Stream(context.Background(), ds, 0, sink, cp.record)

	assert.Equal(t, StateDelayed, result.State)
	assert.Equal(t, 30*time.Second, result.Delay)
	assert.Equal(t, 1, result.Streamed)
	assert.Equal(t, []int{0}, cp.indexes)
}

func TestStream_SinkFailureErrors(t *testing.T) {
	t.Parallel()

	ds := descriptors(2)
	sink := newFakeSink()
	sink.errFor["a1"] = errors.New("disk full")

	result := NewRelay(&fakeDownloader{}).Stream(context.Background(), ds, 0, sink, (&checkpoints{}).record)

	assert.Equal(t, StateErrored, result.State)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "a1")
}

func TestStream_CheckpointFailureErrors(t *testing.T) {
	t.Parallel()

	cp := &checkpoints{err: errors.New("ledger unavailable")}
	result := NewRelay(&fakeDownloader{}).Stream(context.Background(), descriptors(2), 0, newFakeSink(), cp.record)

	assert.Equal(t, StateErrored, result.State)
	assert.Equal(t, cp.err, result.Err)
}

func TestStream_ContextCancelled(t *testing.T) {
	t.Parallel()

	t.Run("before first item", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		downloader := &fakeDownloader{}
		result := NewRelay(downloader).Stream(ctx, descriptors(2), 0, newFakeSink(), (&checkpoints{}).record)
		assert.Equal(t, StateNotStarted, result.State)
		assert.Empty(t, downloader.calls)
	})

	t.Run("mid batch", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ds := descriptors(3)
		downloader := &fakeDownloader{onCall: func(url string) {
			if url == ds[0].URL {
				cancel()
			}
		}}
		cp := &checkpoints{}

		result := NewRelay(downloader).Stream(ctx, ds, 0, newFakeSink(), cp.record)
		assert.Equal(t, StateStreaming, result.State)
		assert.Equal(t, []int{0}, cp.indexes)
		assert.Len(t, downloader.calls, 1)
	})
}

func TestOpen_MissingURL(t *testing.T) {
	t.Parallel()

	downloader := &fakeDownloader{}
	_, streamErr := NewRelay(downloader).Open(context.Background(), Descriptor{ID: "a1"})
	require.NotNil(t, streamErr)
	assert.Equal(t, "a1", streamErr.AttachmentID)
	assert.Empty(t, downloader.calls)
}
