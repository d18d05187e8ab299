// Package chaintemplate resolves the ordered role sequence for an approval
// chain from configured templates and evaluates per-step applicability.
package chaintemplate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Facts are the case attributes applicability predicates may reference.
type Facts struct {
	IncidentID      string
	StudentID       string
	CampusID        string
	ConsequenceType string
	SPED            bool
	Section504      bool
}

func (f Facts) activation() map[string]any {
	return map[string]any{
		"student": map[string]any{
			"id":          f.StudentID,
			"sped":        f.SPED,
			"section_504": f.Section504,
		},
		"incident": map[string]any{
			"id":               f.IncidentID,
			"campus_id":        f.CampusID,
			"consequence_type": f.ConsequenceType,
		},
	}
}

// costLimit bounds the runtime cost of a single evaluation.
const costLimit = 10000

// Evaluator compiles and runs applies_when expressions. Programs for
// template expressions are cached by source text; request-supplied
// expressions go through EvalOnce and are never cached.
type Evaluator struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

// NewEvaluator builds the CEL environment with the student and incident
// variables.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("student", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("incident", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Evaluator{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// Compile checks an expression and caches its program.
func (e *Evaluator) Compile(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := e.program(expr)
	return err
}

// Eval reports whether expr holds for facts. An empty expression always
// applies.
func (e *Evaluator) Eval(expr string, facts Facts) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	return run(prg, expr, facts)
}

// EvalOnce is Eval without touching the program cache.
func (e *Evaluator) EvalOnce(expr string, facts Facts) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	prg, err := e.compile(expr)
	if err != nil {
		return false, err
	}
	return run(prg, expr, facts)
}

func run(prg cel.Program, expr string, facts Facts) (bool, error) {
	out, _, err := prg.Eval(facts.activation())
	if err != nil {
		return false, fmt.Errorf("CEL eval error in %q: %w", expr, err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("applies_when %q did not return bool", expr)
	}
	return v, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	p, err := e.compile(expr)
	if err != nil {
		return nil, err
	}
	e.prgCache[expr] = p
	return p, nil
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	p, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(costLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("CEL program error in %q: %w", expr, err)
	}
	return p, nil
}
