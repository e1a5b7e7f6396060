package responder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"texclaw/pkg/config"
	responderopenai "texclaw/pkg/responder/openai"
)

const (
	TypeEcho   = "echo"
	TypeOpenAI = "openai"
)

// Client produces the reply text for one inbound chat message.
type Client interface {
	Health(ctx context.Context) error
	Reply(ctx context.Context, sessionKey string, text string) (string, error)
}

// New builds the responder selected by responder.type, defaulting to echo.
func New(cfg *config.Config) (Client, error) {
	responderType := strings.ToLower(strings.TrimSpace(cfg.Responder.Type))
	if responderType == "" {
		responderType = TypeEcho
	}

	slog.Default().With("component", "responder.factory").Debug("Resolving responder", "type", responderType)

	switch responderType {
	case TypeEcho:
		return Echo{}, nil
	case TypeOpenAI:
		return responderopenai.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported responder: %s", responderType)
	}
}
