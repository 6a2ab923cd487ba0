package rating

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
)

// DefaultPolicy accepts the half-star scale used by the rating screens.
const DefaultPolicy = "value >= 0.5 && value <= 5.0"

var (
	// ErrEmptyPolicy is returned when an empty expression is provided.
	ErrEmptyPolicy = errors.New("empty rating policy")
	// ErrPolicyCompilation is returned when a policy expression does not compile.
	ErrPolicyCompilation = errors.New("rating policy compilation failed")
	// ErrPolicyNotBoolean is returned when a policy does not yield a boolean.
	ErrPolicyNotBoolean = errors.New("rating policy must return a boolean value")
)

// Policy decides whether a rating value may be written. The expression sees
// three variables: value (double), owner_id and resource_id (int).
type Policy struct {
	expression string
	program    cel.Program
}

// NewPolicy compiles a CEL policy expression.
func NewPolicy(expression string) (*Policy, error) {
	if expression == "" {
		return nil, ErrEmptyPolicy
	}

	env, err := cel.NewEnv(
		cel.Variable("value", cel.DoubleType),
		cel.Variable("owner_id", cel.IntType),
		cel.Variable("resource_id", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyCompilation, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: got %s", ErrPolicyNotBoolean, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyCompilation, err)
	}

	return &Policy{expression: expression, program: prg}, nil
}

// MustPolicy is NewPolicy for expressions known at compile time.
func MustPolicy(expression string) *Policy {
	p, err := NewPolicy(expression)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the policy expression.
func (p *Policy) String() string {
	return p.expression
}

// Check returns ErrInvalidValue when value is not allowed for the pair.
func (p *Policy) Check(ownerID, resourceID int64, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidValue, value)
	}

	out, _, err := p.program.Eval(map[string]any{
		"value":       value,
		"owner_id":    ownerID,
		"resource_id": resourceID,
	})
	if err != nil {
		return fmt.Errorf("evaluate rating policy: %w", err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return fmt.Errorf("%w: result type is %T", ErrPolicyNotBoolean, out.Value())
	}
	if !allowed {
		return fmt.Errorf("%w: %v rejected by %q", ErrInvalidValue, value, p.expression)
	}
	return nil
}
