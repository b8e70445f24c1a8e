package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"claude-gateway/logger"
	"claude-gateway/types"
)

// pingInterval keeps intermediaries from dropping idle SSE connections.
const pingInterval = 15 * time.Second

// decodeFunc parses one upstream SSE data payload into zero or more
// Chat-Completions-shaped chunks. done reports end of stream.
type decodeFunc func(data string) ([]*types.StreamChunk, bool, error)

// chatDecode is the decodeFunc for the Chat Completions SSE dialect.
func chatDecode(data string) ([]*types.StreamChunk, bool, error) {
	chunk, done, err := decodeChatChunk(data)
	if err != nil || done {
		return nil, done, err
	}
	return []*types.StreamChunk{chunk}, false, nil
}

// eventWriter serializes Claude events onto the client connection,
// flushing after every event so deltas are not batched by buffering.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	flusher, _ := w.(http.Flusher)
	return &eventWriter{w: w, flusher: flusher}
}

func (ew *eventWriter) writeEvents(events []types.StreamEvent) error {
	for _, event := range events {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(ew.w, "event: %s\ndata: %s\n\n", event.Name, data); err != nil {
			return err
		}
	}
	if len(events) > 0 {
		streamEventsTotal.Add(float64(len(events)))
		if ew.flusher != nil {
			ew.flusher.Flush()
		}
	}
	return nil
}

// startStream switches the client connection to SSE and returns the event
// writer. Called before the upstream request goes out, so message_start
// reaches the client regardless of upstream first-byte latency.
func startStream(w http.ResponseWriter) *eventWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return newEventWriter(w)
}

// pumpStream drives one streaming response: it reads upstream SSE frames,
// feeds them through the translator, and writes the resulting Claude
// events, with keep-alive pings on idle. Outbound writes happen inline, so
// a slow client stalls upstream reads instead of buffering unbounded data.
func pumpStream(ctx context.Context, upstreamBody io.Reader, writer *eventWriter, translator *streamTranslator, decode decodeFunc, idleTimeout time.Duration, log logger.Logger) {
	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(upstreamBody)
		// Tool calls and long content can produce very large frames.
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
		}
	}()

	pings := time.NewTicker(pingInterval)
	defer pings.Stop()
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	finishClean := func() {
		_ = writer.writeEvents(translator.Finish())
	}
	finishWithError := func(message string) {
		log.Error("stream terminated: %s", message)
		events := translator.Finish()
		events = append(events, errorStreamEvent(message))
		_ = writer.writeEvents(events)
	}

	for {
		select {
		case <-ctx.Done():
			// Client went away; dropping the context cancels the upstream
			// read and frees the connection slot.
			return

		case <-pings.C:
			if err := writer.writeEvents([]types.StreamEvent{{
				Name: types.EventPing,
				Data: types.PingEvent{Type: types.EventPing},
			}}); err != nil {
				return
			}

		case <-idle.C:
			finishWithError(fmt.Sprintf("upstream idle for %s", idleTimeout))
			return

		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					finishWithError(fmt.Sprintf("upstream read failed: %v", err))
				default:
					if translator.finishReason == nil {
						finishWithError("upstream closed the stream before finishing")
					} else {
						finishClean()
					}
				}
				return
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleTimeout)

			data, isData := strings.CutPrefix(line, "data: ")
			if !isData {
				continue
			}
			chunks, done, err := decode(data)
			if err != nil {
				finishWithError(fmt.Sprintf("malformed upstream frame: %v", err))
				return
			}
			// A terminal frame can still carry a final chunk (usage on the
			// Responses path); process before closing.
			for _, chunk := range chunks {
				if err := writer.writeEvents(translator.HandleChunk(chunk)); err != nil {
					return
				}
			}
			if done {
				finishClean()
				return
			}
		}
	}
}
