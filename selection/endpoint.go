// Package selection provides a selectable endpoint: a named operation with
// several alternative handlers, one of which is chosen per request according to
// its alternative configuration.
//
// Recognised configuration options:
//
//	method       one of Methods(), default "default"
//	default      alternative used by the "default" method and as fallback
//	probability  map of alternative to weight, used by the "probability" method
//	param        request parameter read by the "param" method
//	param_type   one of ParamTypes(), how the parameter is parsed
package selection

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"

	"github.com/getpup/configsync"
)

// Selection methods.
const (
	MethodDefault     = "default"
	MethodProbability = "probability"
	MethodParam       = "param"
)

// Config option names.
const (
	OptionMethod    = "method"
	OptionDefault   = "default"
	OptionParam     = "param"
	OptionParamType = "param_type"
)

var paramParsers = map[string]func(string) (string, error){
	"string": func(v string) (string, error) { return v, nil },
	"int": func(v string) (string, error) {
		n, err := strconv.Atoi(v)
		return strconv.Itoa(n), err
	},
	"float": func(v string) (string, error) {
		f, err := strconv.ParseFloat(v, 64)
		return strconv.FormatFloat(f, 'g', -1, 64), err
	},
	"bool": func(v string) (string, error) {
		b, err := strconv.ParseBool(v)
		return strconv.FormatBool(b), err
	},
}

// Methods returns every selection method.
func Methods() []string {
	return []string{MethodDefault, MethodParam, MethodProbability}
}

// ParamTypes returns the parameter types understood by the "param" method.
func ParamTypes() []string {
	return slices.Sorted(maps.Keys(paramParsers))
}

// Endpoint is an in-process selectable endpoint. It is safe for concurrent use.
type Endpoint struct {
	alternatives []string
	methods      []string
	defaults     configsync.Config

	mu      sync.RWMutex
	current configsync.Config
	applied int
}

// NewEndpoint creates an endpoint choosing among alternatives. The first
// alternative is the default unless defaults says otherwise. With no methods
// every method is supported.
func NewEndpoint(alternatives []string, defaults configsync.Config, methods ...string) *Endpoint {
	if len(methods) == 0 {
		methods = Methods()
	}
	d := defaults.Clone()
	if _, ok := d[OptionDefault]; !ok && len(alternatives) > 0 {
		d[OptionDefault] = alternatives[0]
	}

	return &Endpoint{
		alternatives: slices.Clone(alternatives),
		methods:      slices.Clone(methods),
		defaults:     d,
		current:      d.Clone(),
	}
}

// Methods returns the selection methods the endpoint supports.
func (e *Endpoint) Methods() []string {
	return slices.Clone(e.methods)
}

// Alternatives returns the names of the alternative handlers.
func (e *Endpoint) Alternatives() []string {
	return slices.Clone(e.alternatives)
}

// Defaults returns the code-declared configuration.
func (e *Endpoint) Defaults() configsync.Config {
	return e.defaults.Clone()
}

// CurrentConfig returns a copy of the configuration in effect.
func (e *Endpoint) CurrentConfig() configsync.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current.Clone()
}

// Apply replaces the configuration in effect.
func (e *Endpoint) Apply(cfg configsync.Config) {
	e.mu.Lock()
	e.current = cfg.Clone()
	e.applied++
	e.mu.Unlock()
}

// Applied returns how many times Apply was called.
func (e *Endpoint) Applied() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.applied
}

// Choose picks an alternative for a request with the given parameters.
func (e *Endpoint) Choose(params map[string]string) (string, error) {
	cfg := e.CurrentConfig()
	fallback, _ := cfg[OptionDefault].(string)

	method, _ := cfg[OptionMethod].(string)
	switch method {
	case "", MethodDefault:
		return e.known(fallback)
	case MethodProbability:
		return e.weighted(cfg[configsync.ProbabilityKey], fallback)
	case MethodParam:
		return e.byParam(cfg, params, fallback)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, method)
}

func (e *Endpoint) known(name string) (string, error) {
	if slices.Contains(e.alternatives, name) {
		return name, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlternative, name)
}

func (e *Endpoint) weighted(raw any, fallback string) (string, error) {
	weights, ok := raw.(map[string]float64)
	if !ok {
		return e.known(fallback)
	}

	names := slices.Sorted(maps.Keys(weights))
	total := 0.0
	for _, n := range names {
		if weights[n] > 0 && slices.Contains(e.alternatives, n) {
			total += weights[n]
		}
	}
	if total <= 0 {
		return e.known(fallback)
	}

	pick := rand.Float64() * total
	for _, n := range names {
		w := weights[n]
		if w <= 0 || !slices.Contains(e.alternatives, n) {
			continue
		}
		if pick < w {
			return n, nil
		}
		pick -= w
	}
	return e.known(fallback)
}

func (e *Endpoint) byParam(cfg configsync.Config, params map[string]string, fallback string) (string, error) {
	name, _ := cfg[OptionParam].(string)
	value, ok := params[name]
	if !ok {
		return e.known(fallback)
	}

	typ, _ := cfg[OptionParamType].(string)
	if typ == "" {
		typ = "string"
	}
	parse, ok := paramParsers[typ]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownParamType, typ)
	}
	parsed, err := parse(value)
	if err != nil {
		return e.known(fallback)
	}
	if slices.Contains(e.alternatives, parsed) {
		return parsed, nil
	}
	return e.known(fallback)
}

var _ configsync.Endpoint = (*Endpoint)(nil)
