package bus

import "context"

type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	SessionKey string            `json:"session_key"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type OutboundMessage struct {
	Channel    string            `json:"channel"`
	ChatID     string            `json:"chat_id"`
	SessionKey string            `json:"session_key,omitempty"`
	Content    string            `json:"content"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundHook sees every outbound message right before it is transmitted and
// returns the message to send in its place.
type OutboundHook func(context.Context, OutboundMessage) OutboundMessage

// CloneMetadata returns a copy of the message metadata that is safe to mutate.
func (m OutboundMessage) CloneMetadata() map[string]string {
	out := make(map[string]string, len(m.Metadata)+1)
	for key, value := range m.Metadata {
		out[key] = value
	}

	return out
}
