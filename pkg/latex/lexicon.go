package latex

// GreekLetter pairs a bare math word with its LaTeX command.
type GreekLetter struct {
	Rule    RuleID
	Word    string
	Command string
}

// greekLexicon is processed in order. The first eleven entries are the
// letters users reach for most often in casual chat math.
var greekLexicon = []GreekLetter{
	{Rule: "alpha", Word: "alpha", Command: `\alpha`},
	{Rule: "beta", Word: "beta", Command: `\beta`},
	{Rule: "gamma", Word: "gamma", Command: `\gamma`},
	{Rule: "delta", Word: "delta", Command: `\delta`},
	{Rule: "lambda", Word: "lambda", Command: `\lambda`},
	{Rule: "mu", Word: "mu", Command: `\mu`},
	{Rule: "nu", Word: "nu", Command: `\nu`},
	{Rule: "omega", Word: "omega", Command: `\omega`},
	{Rule: "pi", Word: "pi", Command: `\pi`},
	{Rule: "sigma", Word: "sigma", Command: `\sigma`},
	{Rule: "theta", Word: "theta", Command: `\theta`},
	{Rule: "epsilon", Word: "epsilon", Command: `\epsilon`},
	{Rule: "phi", Word: "phi", Command: `\phi`},
	{Rule: "rho", Word: "rho", Command: `\rho`},
	{Rule: "tau", Word: "tau", Command: `\tau`},
	{Rule: "psi", Word: "psi", Command: `\psi`},
}

// Lexicon returns a copy of the Greek lexicon in processing order.
func Lexicon() []GreekLetter {
	out := make([]GreekLetter, len(greekLexicon))
	copy(out, greekLexicon)
	return out
}
