package problem

// TestVector is one judged invocation: the arguments passed to the player's
// function and the result it must produce.
type TestVector struct {
	Args     []any `yaml:"args"`
	Expected any   `yaml:"expected"`
}

// Problem is one coding challenge. Immutable once loaded; matches hold a
// reference to the catalog's copy and never mutate it.
type Problem struct {
	ID           string       `yaml:"id"`
	Title        string       `yaml:"title"`
	Prompt       string       `yaml:"prompt"`
	Signature    string       `yaml:"signature"`
	Example      string       `yaml:"example"`
	StarterCode  string       `yaml:"starter_code"`
	Difficulty   string       `yaml:"difficulty"`
	Topic        string       `yaml:"topic"`
	FunctionName string       `yaml:"function_name"`
	Tests        []TestVector `yaml:"tests"`
}

// Source hands out problems by category.
type Source interface {
	// GetRandom returns one problem for the (difficulty, topic) pair, or a
	// descriptive error when the category has no entries.
	GetRandom(difficulty, topic string) (*Problem, error)
}
