package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/stacklok/trello-extractor/internal/api/common"
	"github.com/stacklok/trello-extractor/internal/event"
)

//go:generate mockgen -destination=mocks/mock_event_handler.go -package=mocks -source=events.go EventHandler

// EventHandler runs one platform event to completion and emits its signal
type EventHandler interface {
	Handle(ctx context.Context, ev event.Event) (event.Signal, error)
}

// eventsHandler accepts a single event or an array of events; only the first
// event of an array is processed
func eventsHandler(handler EventHandler, maxBodyBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeEventResponse(w, false, "Event body is too large", http.StatusRequestEntityTooLarge)
				return
			}
			writeEventResponse(w, false, "Failed to read event body", http.StatusBadRequest)
			return
		}

		ev, err := event.DecodeBatch(body)
		if err != nil {
			slog.WarnContext(r.Context(), "Rejected event", "error", err)
			writeEventResponse(w, false, err.Error(), http.StatusBadRequest)
			return
		}

		// The run is owned by the worker deadline, not by the HTTP client.
		signal, err := handler.Handle(context.WithoutCancel(r.Context()), ev)
		if err != nil {
			slog.ErrorContext(r.Context(), "Event handling failed", "eventType", string(ev.Type()), "error", err)
			if errors.Is(err, event.ErrUnrecognizedEvent) {
				writeEventResponse(w, false, err.Error(), http.StatusBadRequest)
				return
			}
			writeEventResponse(w, false, err.Error(), http.StatusBadGateway)
			return
		}

		writeEventResponse(w, true,
			fmt.Sprintf("Event %s processed, emitted %s", ev.Type(), signal.EventType),
			http.StatusOK)
	}
}

func writeEventResponse(w http.ResponseWriter, success bool, message string, statusCode int) {
	common.WriteJSONResponse(w, EventResponse{Success: success, Message: message}, statusCode)
}
