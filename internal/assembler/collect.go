package assembler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumabridge/lumabridge/internal/config"
	"github.com/lumabridge/lumabridge/internal/parser"
	"github.com/lumabridge/lumabridge/pkg/errors"
	"github.com/lumabridge/lumabridge/pkg/types"
)

// Collect consumes the full event stream and assembles one non-streaming
// completion. promptTokens is the caller's estimate for usage accounting.
func Collect(cfg *config.Config, model string, promptTokens int, events <-chan parser.Event) (*types.ChatResponse, error) {
	var content strings.Builder
	var reasoning strings.Builder
	finishReason := "stop"

	for ev := range events {
		switch ev.Kind {
		case parser.EventContent:
			content.WriteString(ev.Text)
		case parser.EventReasoning:
			if cfg.EnableReasoning {
				reasoning.WriteString(ev.Text)
			}
		case parser.EventReasoningComplete:
			if cfg.EnableReasoning {
				reasoning.Reset()
				reasoning.WriteString(ev.Text)
			}
		case parser.EventRetryInfo:
			if cfg.ShowRetryInfoToClient && ev.Retry != nil {
				content.WriteString(fmt.Sprintf("\n\n[Retrying %d/%d: %s]\n\n",
					ev.Retry.Attempt, ev.Retry.MaxAttempts, ev.Retry.Reason))
			}
		case parser.EventFinish:
			finishReason = ev.Reason
			if finishReason == "content-filter" {
				content.WriteString(contentFilterNotice)
			}
		case parser.EventError:
			return nil, ev.Err
		case parser.EventDone:
			return buildResponse(cfg, model, promptTokens, content.String(), reasoning.String(), finishReason), nil
		}
	}
	return nil, errors.NewInternalError("stream ended without a terminal event")
}

func buildResponse(cfg *config.Config, model string, promptTokens int, content, reasoning, finishReason string) *types.ChatResponse {
	msg := types.ResponseMessage{
		Role:    "assistant",
		Content: content,
	}
	if reasoning != "" {
		if cfg.ReasoningOutputMode == config.ReasoningModeThinkTag {
			msg.Content = "<think>" + reasoning + "</think>\n\n" + content
		} else {
			msg.ReasoningContent = reasoning
		}
	}

	completionTokens := len(msg.Content) / 4
	return &types.ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: finishReason,
		}},
		Usage: &types.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}
