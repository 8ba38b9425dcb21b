// Package assembler renders parser events as OpenAI-compatible responses,
// either as an SSE stream or as a single JSON body.
package assembler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/lumabridge/lumabridge/internal/config"
	"github.com/lumabridge/lumabridge/internal/parser"
	"github.com/lumabridge/lumabridge/pkg/types"
)

const (
	errorChunkPrefix    = "\n\n[Luma API Error]: "
	contentFilterNotice = "\n\nResponse was cut off by the upstream content filter."
)

// StreamHeaders are set on every SSE response.
func StreamHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Stream writes SSE chunks for the event sequence. It always terminates
// with a finish chunk and the [DONE] sentinel, turning errors into a
// visible synthetic chunk.
func Stream(w http.ResponseWriter, cfg *config.Config, model string, events <-chan parser.Event) {
	flusher, _ := w.(http.Flusher)
	StreamHeaders(w.Header())

	s := &streamState{
		w:       w,
		flusher: flusher,
		cfg:     cfg,
		id:      "chatcmpl-" + uuid.NewString(),
		created: time.Now().Unix(),
		model:   model,
	}

	finishReason := ""
	for ev := range events {
		switch ev.Kind {
		case parser.EventContent:
			s.writeContent(ev.Text)

		case parser.EventReasoning:
			if !cfg.EnableReasoning {
				continue
			}
			if cfg.ReasoningOutputMode == config.ReasoningModeOpenAI && cfg.PreserveStreaming {
				s.writeReasoning(ev.Text)
			} else {
				s.reasoningBuf.WriteString(ev.Text)
			}

		case parser.EventReasoningEnd:
			s.flushReasoning()

		case parser.EventReasoningComplete:
			if !cfg.EnableReasoning {
				continue
			}
			s.reasoningBuf.Reset()
			s.reasoningBuf.WriteString(ev.Text)
			s.flushReasoning()

		case parser.EventRetryInfo:
			if cfg.ShowRetryInfoToClient && ev.Retry != nil {
				s.writeContent(fmt.Sprintf("\n\n[Retrying %d/%d: %s, next attempt in %dms]\n\n",
					ev.Retry.Attempt, ev.Retry.MaxAttempts, ev.Retry.Reason, ev.Retry.DelayMillis))
			}

		case parser.EventFinish:
			finishReason = ev.Reason
			if finishReason == "content-filter" {
				s.writeContent(contentFilterNotice)
			}

		case parser.EventError:
			s.writeContent(errorChunkPrefix + ev.Err.Message)
			s.terminate("stop")
			return

		case parser.EventDone:
			if finishReason == "" {
				finishReason = "stop"
			}
			s.terminate(finishReason)
			return
		}
	}

	// Event channel ended without a terminal event (client cancelled).
	if finishReason == "" {
		finishReason = "stop"
	}
	s.terminate(finishReason)
}

type streamState struct {
	w       http.ResponseWriter
	flusher http.Flusher
	cfg     *config.Config

	id      string
	created int64
	model   string

	sentRole     bool
	reasoningBuf strings.Builder
}

func (s *streamState) writeContent(text string) {
	if text == "" {
		return
	}
	s.writeChunk(types.StreamDelta{Content: text}, nil)
}

func (s *streamState) writeReasoning(text string) {
	if text == "" {
		return
	}
	s.writeChunk(types.StreamDelta{ReasoningContent: text}, nil)
}

// flushReasoning emits the buffered reasoning trace in the configured
// shape. In think_tag mode it becomes one wrapped content chunk.
func (s *streamState) flushReasoning() {
	buffered := s.reasoningBuf.String()
	s.reasoningBuf.Reset()
	if buffered == "" {
		return
	}
	if s.cfg.ReasoningOutputMode == config.ReasoningModeThinkTag {
		s.writeContent("<think>" + buffered + "</think>\n\n")
		return
	}
	s.writeReasoning(buffered)
}

func (s *streamState) terminate(finishReason string) {
	s.flushReasoning()
	s.writeChunk(types.StreamDelta{}, &finishReason)
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flush()
}

func (s *streamState) writeChunk(delta types.StreamDelta, finishReason *string) {
	if !s.sentRole {
		delta.Role = "assistant"
		s.sentRole = true
	}
	chunk := types.StreamChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []types.StreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.flush()
}

func (s *streamState) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
