package latex

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

const DefaultMatchTimeout = 250 * time.Millisecond

// ErrMatchTimeout is returned when a rewrite rule exceeds the match timeout.
// The error text never includes the message being converted.
var ErrMatchTimeout = errors.New("match timeout")

// Grammar selects the operand grammar used by the fraction rewrite.
type Grammar string

const (
	// GrammarSqrtAware treats a whole sqrt(...) call as one fraction operand.
	GrammarSqrtAware Grammar = "sqrt_aware"
	// GrammarClassic is the earlier grammar without the sqrt alternative,
	// so "sqrt(x)/2" only captures "(x)" as the numerator.
	GrammarClassic Grammar = "classic"
)

// ParseGrammar resolves a config value, defaulting to GrammarSqrtAware.
func ParseGrammar(value string) (Grammar, error) {
	switch Grammar(strings.ToLower(strings.TrimSpace(value))) {
	case "", GrammarSqrtAware:
		return GrammarSqrtAware, nil
	case GrammarClassic:
		return GrammarClassic, nil
	default:
		return "", fmt.Errorf("unsupported fraction grammar %q", value)
	}
}

const (
	operandClassic   = `\\[A-Za-z]+|\([^)]+\)|[A-Za-z0-9]+`
	operandSqrtAware = `sqrt\([^)]*\)|` + operandClassic

	exponentPattern = `(\\[A-Za-z]+|\([^)]+\)|[A-Za-z0-9]+)\^(\s*\\?[A-Za-z0-9\(\\{]+)`
	sqrtPattern     = `sqrt\(\s*([^)]+?)\s*\)`
	bypassPattern   = `[a-z][a-z0-9+.\-]*://`
)

func fractionPattern(grammar Grammar) string {
	operand := operandSqrtAware
	if grammar == GrammarClassic {
		operand = operandClassic
	}

	return `(` + operand + `)\s*/\s*(` + operand + `)`
}

func greekPattern(word string) string {
	return `(?<!\\)(?<![A-Za-z])` + regexp2.Escape(word) + `(?![A-Za-z])`
}

// Options configures a Pipeline. Zero values select the defaults.
type Options struct {
	Grammar      Grammar
	MatchTimeout time.Duration
	Encoder      Encoder
}

// Stage identifies one rewrite pass.
type Stage string

const (
	StageGreek     Stage = "greek"
	StageFractions Stage = "fractions"
	StageExponents Stage = "exponents"
	StageSqrt      Stage = "sqrt"
)

// Step is the text as it left one stage.
type Step struct {
	Stage   Stage
	Text    string
	Changed bool
	Skipped bool
}

// Result is the outcome of one conversion. The zero value means Unchanged:
// the original message must be sent as-is.
type Result struct {
	Rewritten bool
	LaTeX     string
	URL       string
}

// Unchanged is the result that leaves a message untouched.
var Unchanged = Result{}

type greekRule struct {
	letter GreekLetter
	re     *regexp2.Regexp
}

// Pipeline rewrites ASCII math shorthand into LaTeX. It is immutable after
// construction and safe for concurrent use.
type Pipeline struct {
	grammar  Grammar
	encoder  Encoder
	greek    []greekRule
	fraction *regexp2.Regexp
	exponent *regexp2.Regexp
	sqrt     *regexp2.Regexp
	bypass   *regexp2.Regexp
	timeout  time.Duration
}

// NewPipeline compiles every rewrite rule for the given options.
func NewPipeline(opts Options) (*Pipeline, error) {
	grammar := opts.Grammar
	if grammar == "" {
		grammar = GrammarSqrtAware
	}
	if grammar != GrammarSqrtAware && grammar != GrammarClassic {
		return nil, fmt.Errorf("unsupported fraction grammar %q", grammar)
	}

	timeout := opts.MatchTimeout
	if timeout <= 0 {
		timeout = DefaultMatchTimeout
	}

	compile := func(name string, pattern string, options regexp2.RegexOptions) (*regexp2.Regexp, error) {
		re, err := regexp2.Compile(pattern, options)
		if err != nil {
			return nil, fmt.Errorf("compile %s rule: %w", name, err)
		}
		re.MatchTimeout = timeout
		return re, nil
	}

	p := &Pipeline{
		grammar: grammar,
		timeout: timeout,
		encoder: opts.Encoder.withDefaults(),
		greek:   make([]greekRule, 0, len(greekLexicon)),
	}

	for _, letter := range greekLexicon {
		re, err := compile(string(letter.Rule), greekPattern(letter.Word), regexp2.IgnoreCase)
		if err != nil {
			return nil, err
		}
		p.greek = append(p.greek, greekRule{letter: letter, re: re})
	}

	var err error
	if p.fraction, err = compile(string(StageFractions), fractionPattern(grammar), regexp2.None); err != nil {
		return nil, err
	}
	if p.exponent, err = compile(string(StageExponents), exponentPattern, regexp2.None); err != nil {
		return nil, err
	}
	if p.sqrt, err = compile(string(StageSqrt), sqrtPattern, regexp2.None); err != nil {
		return nil, err
	}
	if p.bypass, err = compile("bypass", bypassPattern, regexp2.IgnoreCase); err != nil {
		return nil, err
	}

	return p, nil
}

// Grammar returns the fraction operand grammar in use.
func (p *Pipeline) Grammar() Grammar {
	return p.grammar
}

// Encoder returns the URL encoder in use.
func (p *Pipeline) Encoder() Encoder {
	return p.encoder
}

// Bypassed reports whether text must skip the pipeline entirely: it is
// empty, or it contains something shaped like a URL.
func (p *Pipeline) Bypassed(text string) (bool, error) {
	if text == "" {
		return true, nil
	}

	found, err := p.bypass.MatchString(text)
	if err != nil {
		return true, fmt.Errorf("check bypass: %w", p.engineError(err))
	}

	return found, nil
}

// Convert runs the whole pipeline. A non-nil error means the regex engine
// gave up and the caller must leave the message untouched.
func (p *Pipeline) Convert(text string, rules Rules) (Result, error) {
	bypassed, err := p.Bypassed(text)
	if err != nil {
		return Unchanged, err
	}
	if bypassed {
		return Unchanged, nil
	}

	rewritten, err := p.Rewrite(text, rules)
	if err != nil {
		return Unchanged, err
	}
	if rewritten == text {
		return Unchanged, nil
	}

	return Result{
		Rewritten: true,
		LaTeX:     rewritten,
		URL:       p.encoder.URL(rewritten),
	}, nil
}

// Rewrite applies every enabled stage and returns the resulting LaTeX text.
// It does not apply the bypass rule.
func (p *Pipeline) Rewrite(text string, rules Rules) (string, error) {
	return p.run(text, rules, nil)
}

// Trace is Rewrite with a snapshot of the text after each stage.
func (p *Pipeline) Trace(text string, rules Rules) ([]Step, error) {
	steps := make([]Step, 0, 4)
	_, err := p.run(text, rules, func(step Step) {
		steps = append(steps, step)
	})
	if err != nil {
		return nil, err
	}

	return steps, nil
}

func (p *Pipeline) run(text string, rules Rules, visit func(Step)) (string, error) {
	rules = rules.Clone()

	stages := []struct {
		stage   Stage
		enabled bool
		apply   func(string) (string, error)
	}{
		{StageGreek, true, func(in string) (string, error) { return p.substituteGreek(in, rules) }},
		{StageFractions, rules.Enabled(RuleFractions), p.rewriteFractions},
		{StageExponents, rules.Enabled(RuleExponents), p.rewriteExponents},
		{StageSqrt, rules.Enabled(RuleSqrt), p.rewriteSqrt},
	}

	current := text
	for _, stage := range stages {
		if !stage.enabled {
			if visit != nil {
				visit(Step{Stage: stage.stage, Text: current, Skipped: true})
			}
			continue
		}

		next, err := stage.apply(current)
		if err != nil {
			return text, fmt.Errorf("rewrite %s: %w", stage.stage, err)
		}
		if visit != nil {
			visit(Step{Stage: stage.stage, Text: next, Changed: next != current})
		}
		current = next
	}

	return current, nil
}

func (p *Pipeline) substituteGreek(text string, rules Rules) (string, error) {
	for _, rule := range p.greek {
		if !rules.Enabled(rule.letter.Rule) {
			continue
		}

		command := rule.letter.Command
		next, err := p.replace(rule.re, text, func(regexp2.Match) string {
			return command
		})
		if err != nil {
			return text, fmt.Errorf("%s: %w", rule.letter.Rule, err)
		}
		text = next
	}

	return text, nil
}

func (p *Pipeline) rewriteFractions(text string) (string, error) {
	return p.replace(p.fraction, text, func(m regexp2.Match) string {
		return `\frac{` + group(m, 1) + `}{` + group(m, 2) + `}`
	})
}

// rewriteExponents keeps the single spaces inside the braces; rendered
// output depends on that exact shape.
func (p *Pipeline) rewriteExponents(text string) (string, error) {
	return p.replace(p.exponent, text, func(m regexp2.Match) string {
		return group(m, 1) + `^{ ` + group(m, 2) + ` }`
	})
}

func (p *Pipeline) rewriteSqrt(text string) (string, error) {
	return p.replace(p.sqrt, text, func(m regexp2.Match) string {
		return `\sqrt{` + group(m, 1) + `}`
	})
}

func (p *Pipeline) replace(re *regexp2.Regexp, text string, evaluator regexp2.MatchEvaluator) (string, error) {
	out, err := re.ReplaceFunc(text, evaluator, -1, -1)
	if err != nil {
		return text, p.engineError(err)
	}

	return out, nil
}

// engineError replaces a regexp2 failure, whose text quotes the whole input,
// with a bounded one.
func (p *Pipeline) engineError(error) error {
	return fmt.Errorf("%w after %s", ErrMatchTimeout, p.timeout)
}

func group(m regexp2.Match, n int) string {
	g := m.GroupByNumber(n)
	if g == nil {
		return ""
	}

	return g.String()
}
