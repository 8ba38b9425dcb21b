// Package parser turns raw upstream fragments into a typed event stream.
// The framing is prefix-tagged and not newline-delimited, so extraction
// runs regexes over a rolling buffer per request.
package parser

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/lumabridge/lumabridge/internal/config"
	"github.com/lumabridge/lumabridge/internal/images"
	"github.com/lumabridge/lumabridge/internal/registry"
	"github.com/lumabridge/lumabridge/pkg/errors"
	"github.com/lumabridge/lumabridge/pkg/types"
)

var (
	textPattern      = regexp.MustCompile(`[ab]0:"((?:\\.|[^"\\])*)"`)
	reasoningPattern = regexp.MustCompile(`ag:"((?:\\.|[^"\\])*)"`)
	imagePattern     = regexp.MustCompile(`(?s)[ab]2:(\[.*?\])`)
	finishPattern    = regexp.MustCompile(`(?s)[ab]d:(\{.*?"finishReason".*?\})`)
	errorPattern     = regexp.MustCompile(`(?s)\{\s*"error"\s*:.*\}`)
)

var cloudflareMarkers = []string{
	"Just a moment...",
	"Enable JavaScript and cookies to continue",
}

// EventKind discriminates parser events.
type EventKind int

// Parser event kinds.
const (
	EventContent EventKind = iota
	EventReasoning
	EventReasoningEnd
	EventReasoningComplete
	EventFinish
	EventError
	EventRetryInfo
	EventDone
)

// Event is one typed element of the parsed stream.
type Event struct {
	Kind   EventKind
	Text   string
	Reason string
	Err    *errors.BridgeError
	Retry  *types.RetryInfo
}

// Refresher asks the browser peer to reload for human verification.
type Refresher interface {
	TriggerRefresh() bool
}

// Parser converts fragments from a request's event queue into events.
type Parser struct {
	cfg       func() *config.Config
	images    *images.Pipeline
	refresher Refresher
	logger    *slog.Logger
}

// New creates a parser. images may be nil in contexts that never see image
// frames.
func New(cfg func() *config.Config, imgs *images.Pipeline, refresher Refresher, logger *slog.Logger) *Parser {
	return &Parser{cfg: cfg, images: imgs, refresher: refresher, logger: logger}
}

// Events consumes the queue and emits parsed events on the returned
// channel. The channel closes after a terminal event (done or error) or
// when ctx is cancelled. The caller owns queue cleanup.
func (p *Parser) Events(ctx context.Context, requestID string, q *registry.EventQueue) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		p.run(ctx, requestID, q, out)
	}()
	return out
}

type parseState struct {
	requestID    string
	buffer       string
	sawReasoning bool
	sawContent   bool
	reasoningAll strings.Builder
}

func (p *Parser) run(ctx context.Context, requestID string, q *registry.EventQueue, out chan<- Event) {
	state := &parseState{requestID: requestID}

	for {
		waitCtx, cancel := context.WithTimeout(ctx, p.cfg().StreamTimeout())
		data, err := q.Pop(waitCtx)
		cancel()

		if err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case err == registry.ErrQueueClosed:
				p.emit(ctx, out, Event{Kind: EventError,
					Err: errors.NewPeerDisconnectedError("browser peer disconnected mid-stream")})
			default:
				p.emit(ctx, out, Event{Kind: EventError,
					Err: errors.NewPeerTimeoutError("response timed out waiting for the browser peer")})
			}
			return
		}

		fragments, special := decodeFragment(data)
		if special != nil {
			switch special.kind {
			case fragmentDone:
				p.finishReasoning(ctx, out, state)
				p.emit(ctx, out, Event{Kind: EventDone})
				return
			case fragmentError:
				p.emit(ctx, out, Event{Kind: EventError, Err: mapUpstreamError(special.errText)})
				return
			case fragmentRetry:
				p.emit(ctx, out, Event{Kind: EventRetryInfo, Retry: special.retry})
				continue
			}
		}

		for _, frag := range fragments {
			state.buffer += frag
		}

		if terminal := p.drainBuffer(ctx, out, state); terminal {
			return
		}
	}
}

type specialFragment struct {
	kind    int
	errText string
	retry   *types.RetryInfo
}

const (
	fragmentDone = iota
	fragmentError
	fragmentRetry
)

// decodeFragment splits one queue element into text fragments or a special
// control fragment. Peer data is a string, a list of strings, an {error}
// object or a {retry_info} object.
func decodeFragment(data json.RawMessage) ([]string, *specialFragment) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "[DONE]" {
			return nil, &specialFragment{kind: fragmentDone}
		}
		return []string{s}, nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	parsed := gjson.ParseBytes(data)
	if errField := parsed.Get("error"); errField.Exists() {
		return nil, &specialFragment{kind: fragmentError, errText: errField.String()}
	}
	if retryField := parsed.Get("retry_info"); retryField.Exists() {
		retry := &types.RetryInfo{
			Attempt:     int(retryField.Get("attempt").Int()),
			MaxAttempts: int(retryField.Get("max_attempts").Int()),
			Reason:      retryField.Get("reason").String(),
			DelayMillis: retryField.Get("delay").Int(),
		}
		return nil, &specialFragment{kind: fragmentRetry, retry: retry}
	}
	// Unknown object shapes flow into the buffer for the error scan.
	return []string{string(data)}, nil
}

// drainBuffer extracts every complete frame currently in the buffer.
// Returns true on a terminal event.
func (p *Parser) drainBuffer(ctx context.Context, out chan<- Event, state *parseState) bool {
	if m := errorPattern.FindString(state.buffer); m != "" {
		if errText := gjson.Get(m, "error"); errText.Exists() {
			p.emit(ctx, out, Event{Kind: EventError, Err: mapUpstreamError(errText.String())})
			return true
		}
	}

	for _, marker := range cloudflareMarkers {
		if strings.Contains(state.buffer, marker) {
			if p.refresher != nil && p.refresher.TriggerRefresh() {
				p.logger.Warn("human verification page detected, refresh requested",
					"request_id", state.requestID)
			}
			p.emit(ctx, out, Event{Kind: EventError,
				Err: errors.NewCaptchaPendingError("human verification detected upstream, please retry shortly")})
			return true
		}
	}

	for {
		frame, ok := earliestFrame(state.buffer)
		if !ok {
			return false
		}
		state.buffer = state.buffer[frame.end:]

		switch frame.kind {
		case frameText:
			text, err := unescapeJSONString(frame.payload)
			if err != nil {
				p.logger.Warn("undecodable text frame", "request_id", state.requestID, "error", err)
				continue
			}
			p.beforeContent(ctx, out, state)
			state.sawContent = true
			p.emit(ctx, out, Event{Kind: EventContent, Text: text})

		case frameReasoning:
			text, err := unescapeJSONString(frame.payload)
			if err != nil {
				continue
			}
			state.sawReasoning = true
			state.reasoningAll.WriteString(text)
			p.emit(ctx, out, Event{Kind: EventReasoning, Text: text})

		case frameImage:
			p.beforeContent(ctx, out, state)
			state.sawContent = true
			for _, md := range p.renderImages(ctx, state.requestID, frame.payload) {
				p.emit(ctx, out, Event{Kind: EventContent, Text: md})
			}

		case frameFinish:
			reason := gjson.Get(frame.payload, "finishReason").String()
			if reason == "" {
				reason = "stop"
			}
			p.emit(ctx, out, Event{Kind: EventFinish, Reason: reason})
		}
	}
}

// beforeContent flushes the one-shot reasoning_end marker ahead of the
// first content event.
func (p *Parser) beforeContent(ctx context.Context, out chan<- Event, state *parseState) {
	if state.sawReasoning && !state.sawContent {
		p.emit(ctx, out, Event{Kind: EventReasoningEnd})
	}
}

// finishReasoning emits reasoning_complete when the stream ends without any
// content following the reasoning trace.
func (p *Parser) finishReasoning(ctx context.Context, out chan<- Event, state *parseState) {
	if state.sawReasoning && !state.sawContent {
		p.emit(ctx, out, Event{Kind: EventReasoningComplete, Text: state.reasoningAll.String()})
	}
}

// renderImages converts an image frame payload into markdown strings.
func (p *Parser) renderImages(ctx context.Context, requestID, payload string) []string {
	var rendered []string
	for _, item := range gjson.Parse(payload).Array() {
		if item.Get("type").String() != "image" {
			continue
		}
		url := item.Get("image").String()
		if url == "" {
			continue
		}
		if p.images != nil {
			rendered = append(rendered, p.images.Markdown(ctx, url, requestID)+"\n")
		} else {
			rendered = append(rendered, "![Image]("+url+")\n")
		}
	}
	return rendered
}

func (p *Parser) emit(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

type frameKind int

const (
	frameText frameKind = iota
	frameReasoning
	frameImage
	frameFinish
)

type frame struct {
	kind    frameKind
	payload string
	end     int
}

// earliestFrame finds the first complete frame of any kind in the buffer.
func earliestFrame(buffer string) (frame, bool) {
	type candidate struct {
		kind frameKind
		re   *regexp.Regexp
	}
	candidates := []candidate{
		{frameText, textPattern},
		{frameReasoning, reasoningPattern},
		{frameImage, imagePattern},
		{frameFinish, finishPattern},
	}

	var best frame
	found := false
	bestStart := -1
	for _, c := range candidates {
		loc := c.re.FindStringSubmatchIndex(buffer)
		if loc == nil {
			continue
		}
		if !found || loc[0] < bestStart {
			found = true
			bestStart = loc[0]
			best = frame{
				kind:    c.kind,
				payload: buffer[loc[2]:loc[3]],
				end:     loc[1],
			}
		}
	}
	return best, found
}

// unescapeJSONString decodes the escaped inner payload of a text frame.
func unescapeJSONString(escaped string) (string, error) {
	var s string
	err := json.Unmarshal([]byte(`"`+escaped+`"`), &s)
	return s, err
}

// mapUpstreamError classifies peer-reported errors, turning oversized
// attachment failures into a friendly 413.
func mapUpstreamError(msg string) *errors.BridgeError {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "413") || strings.Contains(lower, "too large") {
		return errors.NewAttachmentTooLargeError("attachment is too large for the upstream, try the file bed or a smaller image")
	}
	return errors.NewUpstreamError(msg)
}
