package dag

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// guardEvaluator compiles and caches CEL guard expressions. A guard sees
// the parent's result bound to `result` and must yield a bool.
type guardEvaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
	log      Logger
}

// newGuardEvaluator builds the shared CEL environment
func newGuardEvaluator(log Logger) (*guardEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("result", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard environment: %w", err)
	}
	return &guardEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
		log:      log,
	}, nil
}

// compile parses and checks a guard, caching the program
func (g *guardEvaluator) compile(guard string) (cel.Program, error) {
	g.mu.RLock()
	prog, ok := g.programs[guard]
	g.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := g.env.Compile(guard)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid guard %q: %w", guard, issues.Err())
	}
	prog, err := g.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build guard %q: %w", guard, err)
	}

	g.mu.Lock()
	g.programs[guard] = prog
	g.mu.Unlock()
	return prog, nil
}

// eval runs a guard against a parent result. Compile and runtime errors
// are logged and treated as unsatisfied.
func (g *guardEvaluator) eval(guard string, result any) bool {
	prog, err := g.compile(guard)
	if err != nil {
		g.log.Warn("guard compilation failed", "guard", guard, "error", err)
		return false
	}

	input := map[string]any{"result": result}
	if result == nil {
		input["result"] = map[string]any{}
	}

	out, _, err := prog.Eval(input)
	if err != nil {
		g.log.Warn("guard evaluation failed", "guard", guard, "error", err)
		return false
	}

	satisfied, ok := out.Value().(bool)
	if !ok {
		g.log.Warn("guard did not yield a bool", "guard", guard)
		return false
	}
	return satisfied
}

// validateGuards pre-compiles every guard in a workflow so bad expressions
// fail at submission rather than mid-run
func (g *guardEvaluator) validateGuards(w *Workflow) error {
	for _, node := range w.Nodes {
		for _, dep := range node.Dependencies {
			if dep.Guard == "" {
				continue
			}
			if _, err := g.compile(dep.Guard); err != nil {
				return err
			}
		}
	}
	return nil
}

// edgeSatisfied reports whether one dependency edge is met: the status
// condition holds and the guard, if any, passes against the parent result
func (e *Engine) edgeSatisfied(dep Dependency, parent *Node) bool {
	if !dep.Condition.Satisfied(parent.Status) {
		return false
	}
	if dep.Guard == "" {
		return true
	}
	return e.guards.eval(dep.Guard, parent.Result)
}
