package responder

import (
	"context"
	"errors"
	"strings"
)

// Echo replies with the sender's own text, so the outbound renderer turns a
// user's shorthand math straight into an image.
type Echo struct{}

func (Echo) Health(context.Context) error {
	return nil
}

func (Echo) Reply(_ context.Context, _ string, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("message is empty")
	}

	return text, nil
}
