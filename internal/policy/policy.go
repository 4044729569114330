// Package policy implements an optional, operator-supplied admission gate for
// discovered peers and redirect targets, expressed as a CEL boolean expression.
package policy

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
)

// Source identifies how a candidate hostname was discovered.
type Source string

const (
	SourcePeer     Source = "peer"
	SourceRedirect Source = "redirect"
	SourceManual   Source = "manual"
)

// Admitter decides whether a candidate hostname should be admitted (inserted
// into the registry / followed as a redirect target). The zero Admitter
// admits everything, matching the "no policy configured" default.
type Admitter struct {
	expression string
	program    cel.Program
}

// NewAdmitter compiles expr, a CEL expression evaluated against a single
// `instance` variable (a map with at least "hostname" and "source" keys),
// expected to produce a boolean. An empty expr yields an always-admit Admitter.
func NewAdmitter(expr string) (*Admitter, error) {
	if expr == "" {
		return &Admitter{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("instance", cel.MapType(cel.StringType, cel.AnyType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: creating CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compiling expression %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy: building program for %q: %w", expr, err)
	}

	return &Admitter{expression: expr, program: prg}, nil
}

// Admit reports whether hostname, discovered via src, should be admitted.
func (a *Admitter) Admit(hostname string, src Source) (bool, error) {
	if a == nil || a.program == nil {
		return true, nil
	}

	out, _, err := a.program.Eval(map[string]any{
		"instance": map[string]any{
			"hostname": hostname,
			"source":   string(src),
		},
	})
	if err != nil {
		return false, fmt.Errorf("policy: evaluating expression %q for %q: %w", a.expression, hostname, err)
	}

	nv, err := out.ConvertToNative(reflect.TypeOf(true))
	if err != nil {
		return false, fmt.Errorf("policy: expression %q did not evaluate to bool for %q: %w", a.expression, hostname, err)
	}
	b, ok := nv.(bool)
	if !ok {
		return false, fmt.Errorf("policy: expression %q produced non-bool result for %q", a.expression, hostname)
	}
	return b, nil
}
