package schema

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Restriction is a boolean expression over `value` that every non-nil value
// written to a field must satisfy, e.g. `len(value) <= 10` or
// `value in ["draft", "final"]`.
type Restriction struct {
	Source  string
	program *vm.Program
}

func CompileRestriction(src string) (*Restriction, error) {
	program, err := expr.Compile(src,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("restriction %q: %w", src, err)
	}
	return &Restriction{Source: src, program: program}, nil
}

func (r *Restriction) String() string {
	return r.Source
}

// Check returns a non-nil error if value violates the restriction.
func (r *Restriction) Check(value any) error {
	out, err := expr.Run(r.program, map[string]any{"value": value})
	if err != nil {
		return fmt.Errorf("restriction %q: %w", r.Source, err)
	}
	if ok, _ := out.(bool); !ok {
		return fmt.Errorf("violates restriction %q", r.Source)
	}
	return nil
}
