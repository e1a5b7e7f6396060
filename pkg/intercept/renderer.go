// Package intercept rewrites outbound chat messages that contain math
// shorthand into rendered-image URLs right before they are sent.
package intercept

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"texclaw/pkg/bus"
	"texclaw/pkg/latex"

	"github.com/google/uuid"
)

// Metadata keys written on rewritten messages.
const (
	MetaRenderURL       = "render_url"
	MetaLaTeXSource     = "latex_source"
	MetaOriginalContent = "original_content"
	MetaMessageID       = "message_id"

	// MetaRender set to "off" on a message opts it out of rendering.
	MetaRender = "render"
)

const previewLimit = 120

// RuleSource supplies the rules in force for the next conversion.
type RuleSource interface {
	Snapshot() latex.Rules
}

// StaticRules is a RuleSource that never changes.
type StaticRules latex.Rules

func (r StaticRules) Snapshot() latex.Rules {
	return latex.Rules(r).Clone()
}

// Renderer is the pre-send hook that swaps math text for an image URL.
type Renderer struct {
	pipeline *latex.Pipeline
	rules    RuleSource
	events   *bus.MessageBus
	log      *slog.Logger
}

// NewRenderer wires a pipeline and rule source. events may be nil.
func NewRenderer(pipeline *latex.Pipeline, rules RuleSource, events *bus.MessageBus, log *slog.Logger) *Renderer {
	if pipeline == nil {
		pipeline = latex.Default()
	}
	if rules == nil {
		rules = StaticRules(latex.DefaultRules())
	}
	if log == nil {
		log = slog.Default()
	}

	return &Renderer{
		pipeline: pipeline,
		rules:    rules,
		events:   events,
		log:      log.With("component", "intercept.renderer"),
	}
}

// Attach registers the renderer as an outbound hook on mb.
func (r *Renderer) Attach(mb *bus.MessageBus) {
	mb.RegisterOutboundHook(r.Hook)
}

// Hook implements bus.OutboundHook. It never returns a partially rewritten
// message: on any failure the input is returned as-is.
func (r *Renderer) Hook(ctx context.Context, msg bus.OutboundMessage) (out bus.OutboundMessage) {
	out = msg
	if msg.Error != "" || strings.EqualFold(msg.Metadata[MetaRender], "off") {
		return msg
	}

	messageID := uuid.NewString()
	defer func() {
		if recovered := recover(); recovered != nil {
			out = msg
			r.fail(ctx, msg, messageID, fmt.Errorf("panic during conversion: %v", recovered))
		}
	}()

	result, err := r.pipeline.Convert(msg.Content, r.rules.Snapshot())
	if err != nil {
		r.fail(ctx, msg, messageID, err)
		return msg
	}

	if !result.Rewritten {
		r.publish(ctx, msg, bus.Event{Type: bus.EventMessageUnchanged, MessageID: messageID})
		return msg
	}

	metadata := msg.CloneMetadata()
	metadata[MetaRenderURL] = result.URL
	metadata[MetaLaTeXSource] = result.LaTeX
	metadata[MetaOriginalContent] = msg.Content
	metadata[MetaMessageID] = messageID

	out.Content = result.URL
	out.Metadata = metadata

	r.log.Debug("Rendered outbound math",
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
		"message_id", messageID,
		"latex", preview(result.LaTeX),
	)
	r.publish(ctx, msg, bus.Event{
		Type:      bus.EventMessageRendered,
		MessageID: messageID,
		Payload:   map[string]string{MetaLaTeXSource: result.LaTeX},
	})

	return out
}

func (r *Renderer) fail(ctx context.Context, msg bus.OutboundMessage, messageID string, err error) {
	r.log.Warn("Math rendering failed; sending original text", "channel", msg.Channel, "message_id", messageID, "error", err)
	r.publish(ctx, msg, bus.Event{Type: bus.EventRenderFailed, MessageID: messageID, Error: err.Error()})
}

func (r *Renderer) publish(ctx context.Context, msg bus.OutboundMessage, event bus.Event) {
	if r.events == nil {
		return
	}

	event.Channel = msg.Channel
	event.ChatID = msg.ChatID
	event.SessionKey = msg.SessionKey
	r.events.PublishEvent(ctx, event)
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}

	return string(runes[:previewLimit]) + "..."
}
