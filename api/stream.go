package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/fabfab/fullstack-gpt/chat"
)

// streamAnswer relays tokens as server-sent events: one "token" event per token,
// then "done" with the full answer, or "error" if generation fails midway.
func (s *Server) streamAnswer(w http.ResponseWriter, stream *chat.AnswerStream) {
	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			s.writeEvent(w, "done", doneEvent{Answer: stream.Answer(), Sources: stream.Sources})
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		if err != nil {
			s.logger.Printf("api error (stream): %v", err)
			s.writeEvent(w, "error", errorResponse{Error: err.Error()})
			if flusher != nil {
				flusher.Flush()
			}
			return
		}

		if err := s.writeEvent(w, "token", token); err != nil {
			// client went away; dropping the stream cancels generation.
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
