package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"texclaw/pkg/config"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/conversations"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

// Client answers chat messages with the OpenAI Responses API, keeping one
// conversation per chat session.
type Client struct {
	client         osdk.Client
	model          string
	instructions   string
	requestTimeout time.Duration

	mu            sync.RWMutex
	conversations map[string]string
}

func New(cfg *config.Config) (*Client, error) {
	providerCfg := cfg.Providers.OpenAI
	apiKey := resolveAPIKey(providerCfg)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	model, err := normalizeModel(cfg.Responder.Model)
	if err != nil {
		return nil, fmt.Errorf("responder.model: %w", err)
	}

	instructions, err := resolveInstructions()
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(providerCfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(providerCfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(providerCfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}

	requestTimeout := time.Duration(providerCfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	return &Client{
		client:         osdk.NewClient(opts...),
		model:          model,
		instructions:   instructions,
		requestTimeout: requestTimeout,
		conversations:  make(map[string]string),
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := responderLogger().With("operation", "health")
	startedAt := time.Now()
	log.Debug("responder request started")

	if _, err := c.client.Models.List(ctx); err != nil {
		log.Debug("responder request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Debug("responder request completed", "duration_ms", time.Since(startedAt).Milliseconds())

	return nil
}

// Reply sends text into the session's conversation and returns the model output.
func (c *Client) Reply(ctx context.Context, sessionKey string, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("message is empty")
	}

	conversationID, err := c.conversationFor(ctx, sessionKey)
	if err != nil {
		return "", err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := responderLogger().With("operation", "reply")
	startedAt := time.Now()
	log.Debug("responder request started",
		"session_key", sessionKey,
		"model", c.model,
		"message_length", len(text),
	)

	response, err := c.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:        c.model,
		Instructions: osdk.String(c.instructions),
		Input:        responses.ResponseNewParamsInputUnion{OfString: osdk.String(text)},
		Conversation: responses.ResponseNewParamsConversationUnion{
			OfConversationObject: &responses.ResponseConversationParam{ID: conversationID},
		},
	})
	if err != nil {
		log.Debug("responder request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("reply failed: %w", err)
	}

	output := strings.TrimSpace(response.OutputText())
	if output == "" {
		log.Debug("responder request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no output text")
		return "", errors.New("reply succeeded but returned no text")
	}
	log.Debug("responder request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(output))

	return output, nil
}

// conversationFor returns the conversation bound to sessionKey, creating it
// on first use.
func (c *Client) conversationFor(ctx context.Context, sessionKey string) (string, error) {
	c.mu.RLock()
	id, ok := c.conversations[sessionKey]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.conversations[sessionKey]; ok {
		return id, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	conversation, err := c.client.Conversations.New(ctx, conversations.ConversationNewParams{})
	if err != nil {
		return "", fmt.Errorf("create conversation for %s: %w", sessionKey, err)
	}
	if conversation == nil || strings.TrimSpace(conversation.ID) == "" {
		return "", errors.New("create conversation returned empty id")
	}

	id = strings.TrimSpace(conversation.ID)
	c.conversations[sessionKey] = id
	responderLogger().Debug("conversation created", "session_key", sessionKey, "conversation_id", id)

	return id, nil
}

func responderLogger() *slog.Logger {
	return slog.Default().With("component", "responder.openai")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func resolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by openai responder", providerID)
	}

	return modelID, nil
}
