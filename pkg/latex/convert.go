package latex

import "sync"

var defaultPipeline = sync.OnceValue(func() *Pipeline {
	p, err := NewPipeline(Options{})
	if err != nil {
		panic(err)
	}
	return p
})

// Default returns the shared pipeline built from zero Options.
func Default() *Pipeline {
	return defaultPipeline()
}

// Convert runs text through the default pipeline. It never fails: if the
// regex engine gives up, the message is reported as Unchanged.
func Convert(text string, rules Rules) Result {
	result, err := Default().Convert(text, rules)
	if err != nil {
		return Unchanged
	}

	return result
}
