package reqtags

import (
	"maps"

	"github.com/antonmedv/expr"
)

// Env contains the per-request data a rule expression can reference.
type Env map[string]any

var (
	dummyEnv   = Env{}
	defaultEnv = Env{}
)

// NewEnv shallow-copies the default values into a new Env.
func NewEnv() Env {
	return maps.Clone(defaultEnv)
}

func define[T any](name string, def T) func(Env, T) {
	if name == "" {
		panic("reqtags: define: name is required")
	}
	if _, ok := dummyEnv[name]; ok {
		panic("reqtags: define: name is already used")
	}
	dummyEnv[name] = def
	defaultEnv[name] = def
	return func(e Env, v T) { e[name] = v }
}

// Define registers a variable with the provided name, defaulting to the
// zero value. For parse-time expression type-checking to work, T should not
// be any.
func Define[T any](name string) func(Env, T) {
	var zero T
	return define[T](name, zero)
}

var compileOptions = []expr.Option{expr.AsBool(), expr.Optimize(true), expr.Env(dummyEnv)}
