package intercept

import (
	"fmt"
	"time"

	"texclaw/pkg/config"
	"texclaw/pkg/latex"
)

// NewPipeline builds the conversion pipeline described by the render section.
func NewPipeline(cfg config.RenderConfig) (*latex.Pipeline, error) {
	grammar, err := latex.ParseGrammar(cfg.FractionGrammar)
	if err != nil {
		return nil, fmt.Errorf("render.fraction_grammar: %w", err)
	}

	pipeline, err := latex.NewPipeline(latex.Options{
		Grammar:      grammar,
		MatchTimeout: time.Duration(cfg.MatchTimeoutMS) * time.Millisecond,
		Encoder: latex.Encoder{
			Endpoint: cfg.Endpoint,
			DPI:      cfg.DPI,
			Color:    cfg.Color,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build render pipeline: %w", err)
	}

	return pipeline, nil
}
