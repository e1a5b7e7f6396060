package latex

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestConvertBypass(t *testing.T) {
	t.Parallel()

	configs := map[string]Rules{
		"all enabled":  DefaultRules(),
		"all disabled": {},
		"nil":          nil,
	}
	inputs := []string{
		"",
		"http://x",
		"see HTTPS://example.com/a/b for x^2",
		"ftp://host/alpha/beta",
	}

	for name, rules := range configs {
		for _, input := range inputs {
			if got := Convert(input, rules); got != Unchanged {
				t.Fatalf("%s: Convert(%q) = %+v, want Unchanged", name, input, got)
			}
		}
	}
}

func TestConvertAllRulesDisabled(t *testing.T) {
	t.Parallel()

	inputs := []string{"alpha + beta", "a/b", "x^2", "sqrt(x)/2", "plain words"}
	for _, input := range inputs {
		if got := Convert(input, Rules{}); got != Unchanged {
			t.Fatalf("Convert(%q) = %+v, want Unchanged", input, got)
		}
	}
}

func TestConvertGreekBuildsURL(t *testing.T) {
	t.Parallel()

	got := Convert("alpha + beta", DefaultRules())
	if !got.Rewritten {
		t.Fatal("expected rewritten result")
	}
	if got.LaTeX != `\alpha + \beta` {
		t.Fatalf("latex = %q, want %q", got.LaTeX, `\alpha + \beta`)
	}

	prefix := DefaultEndpoint + "?"
	if !strings.HasPrefix(got.URL, prefix) {
		t.Fatalf("url = %q, want prefix %q", got.URL, prefix)
	}

	decoded, err := url.PathUnescape(strings.TrimPrefix(got.URL, prefix))
	if err != nil {
		t.Fatalf("unescape query: %v", err)
	}
	want := `\dpi{200} \color{white}{\alpha + \beta}`
	if decoded != want {
		t.Fatalf("decoded query = %q, want %q", decoded, want)
	}
}

func TestConvertExactURL(t *testing.T) {
	t.Parallel()

	got := Convert("x^2", DefaultRules())
	want := "https://latex.codecogs.com/png.latex?%5Cdpi%7B200%7D%20%5Ccolor%7Bwhite%7D%7Bx%5E%7B%202%20%7D%7D"
	if got.URL != want {
		t.Fatalf("url = %q, want %q", got.URL, want)
	}
}

func TestRewrite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "fraction", input: "a/b", want: `\frac{a}{b}`},
		{name: "fraction with spaces", input: "a / b", want: `\frac{a}{b}`},
		{name: "several fractions", input: "1/2 + 3/4", want: `\frac{1}{2} + \frac{3}{4}`},
		{name: "parenthesized operand", input: "(a+b)/c", want: `\frac{(a+b)}{c}`},
		{name: "chained fraction stops after first", input: "a/b/c", want: `\frac{a}{b}/c`},
		{name: "greek operands", input: "alpha/beta", want: `\frac{\alpha}{\beta}`},
		{name: "exponent", input: "x^2", want: `x^{ 2 }`},
		{name: "several exponents", input: "x^2 + y^2", want: `x^{ 2 } + y^{ 2 }`},
		{name: "multi digit exponent", input: "2^10", want: `2^{ 10 }`},
		{name: "greek exponent", input: "e^pi", want: `e^{ \pi }`},
		{name: "open paren exponent", input: "e^(x)", want: `e^{ (x })`},
		{name: "sqrt", input: "sqrt(x)", want: `\sqrt{x}`},
		{name: "sqrt trims padding", input: "sqrt( 16 )", want: `\sqrt{16}`},
		{name: "sqrt numerator", input: "sqrt(x)/2", want: `\frac{\sqrt{x}}{2}`},
		{name: "greek with punctuation", input: "alpha, omega.", want: `\alpha, \omega.`},
		{name: "greek case insensitive", input: "Alpha THETA", want: `\alpha \theta`},
		{name: "already escaped", input: `\alpha`, want: `\alpha`},
		{name: "inside longer word", input: "deltaforce", want: "deltaforce"},
		{name: "embedded short letters", input: "spin the mum", want: "spin the mum"},
		{name: "plain text", input: "hello there", want: "hello there"},
	}

	p := Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := p.Rewrite(tt.input, DefaultRules())
			if err != nil {
				t.Fatalf("Rewrite(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Fatalf("Rewrite(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestConvertGuardsReturnUnchanged(t *testing.T) {
	t.Parallel()

	for _, input := range []string{`\alpha`, "deltaforce", "no math here"} {
		if got := Convert(input, DefaultRules()); got != Unchanged {
			t.Fatalf("Convert(%q) = %+v, want Unchanged", input, got)
		}
	}
}

func TestRewriteRespectsPerLetterRules(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	rules["alpha"] = false

	got, err := Default().Rewrite("alpha beta", rules)
	if err != nil {
		t.Fatalf("Rewrite error: %v", err)
	}
	if got != `alpha \beta` {
		t.Fatalf("Rewrite = %q, want %q", got, `alpha \beta`)
	}
}

func TestRewriteOnlyStructuralRule(t *testing.T) {
	t.Parallel()

	got, err := Default().Rewrite("alpha^2 + a/b", Rules{RuleExponents: true})
	if err != nil {
		t.Fatalf("Rewrite error: %v", err)
	}
	if got != `alpha^{ 2 } + a/b` {
		t.Fatalf("Rewrite = %q, want %q", got, `alpha^{ 2 } + a/b`)
	}
}

func TestTraceStageOrder(t *testing.T) {
	t.Parallel()

	steps, err := Default().Trace("sqrt(x)/2", DefaultRules())
	if err != nil {
		t.Fatalf("Trace error: %v", err)
	}

	want := []Step{
		{Stage: StageGreek, Text: "sqrt(x)/2"},
		{Stage: StageFractions, Text: `\frac{sqrt(x)}{2}`, Changed: true},
		{Stage: StageExponents, Text: `\frac{sqrt(x)}{2}`},
		{Stage: StageSqrt, Text: `\frac{\sqrt{x}}{2}`, Changed: true},
	}
	if len(steps) != len(want) {
		t.Fatalf("steps len = %d, want %d", len(steps), len(want))
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("step %d = %+v, want %+v", i, steps[i], want[i])
		}
	}
}

func TestTraceMarksSkippedStages(t *testing.T) {
	t.Parallel()

	steps, err := Default().Trace("a/b", Rules{RuleSqrt: true})
	if err != nil {
		t.Fatalf("Trace error: %v", err)
	}
	if !steps[1].Skipped || steps[1].Stage != StageFractions {
		t.Fatalf("fractions step = %+v, want skipped", steps[1])
	}
	if steps[1].Text != "a/b" {
		t.Fatalf("skipped step text = %q, want input", steps[1].Text)
	}
}

func TestClassicGrammar(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline(Options{Grammar: GrammarClassic})
	if err != nil {
		t.Fatalf("NewPipeline error: %v", err)
	}

	got, err := p.Rewrite("sqrt(x)/2", DefaultRules())
	if err != nil {
		t.Fatalf("Rewrite error: %v", err)
	}
	if got != `sqrt\frac{(x)}{2}` {
		t.Fatalf("Rewrite = %q, want %q", got, `sqrt\frac{(x)}{2}`)
	}

	got, err = p.Rewrite("a/b", DefaultRules())
	if err != nil {
		t.Fatalf("Rewrite error: %v", err)
	}
	if got != `\frac{a}{b}` {
		t.Fatalf("Rewrite = %q, want %q", got, `\frac{a}{b}`)
	}
}

func TestParseGrammar(t *testing.T) {
	tests := []struct {
		input   string
		want    Grammar
		wantErr bool
	}{
		{input: "", want: GrammarSqrtAware},
		{input: "sqrt_aware", want: GrammarSqrtAware},
		{input: " Classic ", want: GrammarClassic},
		{input: "recursive", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseGrammar(tt.input)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseGrammar(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseGrammar(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNewPipelineRejectsUnknownGrammar(t *testing.T) {
	if _, err := NewPipeline(Options{Grammar: "recursive"}); err == nil {
		t.Fatal("expected error for unknown grammar")
	}
}

func TestConvertConcurrentCallers(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	want := Convert("sqrt(x)/2 + alpha^2", rules)

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := Convert("sqrt(x)/2 + alpha^2", rules); got != want {
				errs <- got.LaTeX
			}
		}()
	}
	wg.Wait()
	close(errs)

	for got := range errs {
		t.Fatalf("concurrent Convert latex = %q, want %q", got, want.LaTeX)
	}
}

func TestConvertMatchTimeoutIsBoundedAndUnchanged(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline(Options{MatchTimeout: time.Millisecond})
	if err != nil {
		t.Fatalf("NewPipeline error: %v", err)
	}

	input := strings.Repeat("(", 60000) + "x^2"
	result, err := p.Convert(input, DefaultRules())
	if !errors.Is(err, ErrMatchTimeout) {
		t.Fatalf("Convert error = %v, want ErrMatchTimeout", err)
	}
	if result != Unchanged {
		t.Fatalf("Convert result = %+v, want Unchanged", result)
	}
	if msg := err.Error(); len(msg) > 200 || strings.Contains(msg, "((((") {
		t.Fatalf("error leaks input: %.120q (len %d)", msg, len(msg))
	}
	if !strings.HasPrefix(err.Error(), "rewrite ") || !strings.Contains(err.Error(), "match timeout after 1ms") {
		t.Fatalf("error = %q", err.Error())
	}

	if got := Convert(input, DefaultRules()); got != Unchanged {
		t.Fatalf("package Convert = %+v, want Unchanged", got)
	}
}
