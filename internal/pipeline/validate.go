package pipeline

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/httperr"
)

// FieldRule constrains one request parameter. Zero-value rules accept
// anything, so only the checks a field declares are applied.
type FieldRule struct {
	Required  bool
	MaxLength int
	// Pattern is an anchored regular expression the value must match.
	Pattern string
	// Expr is a CEL expression over `value` (the field's string value) and
	// `params` (every parameter as a string map) that must yield true.
	Expr string
}

// Schema maps parameter names to their rules.
type Schema map[string]FieldRule

// ValidationStage checks query parameters against a schema and hands the
// sanitized values to the core handler. It runs last in the standard chain so
// it only evaluates requests that already passed the cheaper checks.
type ValidationStage struct {
	schema   Schema
	patterns map[string]*regexp.Regexp
	programs map[string]cel.Program
}

// NewValidation compiles every pattern and CEL expression up front so
// request-time evaluation cannot fail on malformed rules.
func NewValidation(schema Schema) (*ValidationStage, error) {
	s := &ValidationStage{
		schema:   schema,
		patterns: make(map[string]*regexp.Regexp),
		programs: make(map[string]cel.Program),
	}

	var env *cel.Env
	for field, rule := range schema {
		if rule.Pattern != "" {
			re, err := regexp.Compile("^(?:" + rule.Pattern + ")$")
			if err != nil {
				return nil, fmt.Errorf("pipeline: validation pattern for %q: %w", field, err)
			}
			s.patterns[field] = re
		}
		if rule.Expr != "" {
			if env == nil {
				var err error
				env, err = cel.NewEnv(
					cel.Variable("value", cel.StringType),
					cel.Variable("params", cel.MapType(cel.StringType, cel.StringType)),
					cel.HomogeneousAggregateLiterals(),
				)
				if err != nil {
					return nil, fmt.Errorf("pipeline: validation environment: %w", err)
				}
			}
			ast, issues := env.Compile(rule.Expr)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("pipeline: validation expr for %q: %w", field, issues.Err())
			}
			if ast.OutputType() != cel.BoolType {
				return nil, fmt.Errorf("pipeline: validation expr for %q must yield bool", field)
			}
			program, err := env.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("pipeline: validation program for %q: %w", field, err)
			}
			s.programs[field] = program
		}
	}
	return s, nil
}

// Name identifies the stage for logging.
func (s *ValidationStage) Name() string { return "validation" }

// Execute evaluates every field rule, accumulating field-level findings so the
// caller sees all problems at once rather than one per round trip.
func (s *ValidationStage) Execute(r *http.Request) Result {
	if len(s.schema) == 0 {
		return Proceed()
	}

	query := r.URL.Query()
	params := map[string]string{}
	for key := range query {
		params[key] = query.Get(key)
	}

	findings := map[string]string{}

	fields := make([]string, 0, len(s.schema))
	for field := range s.schema {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		rule := s.schema[field]
		value := strings.TrimSpace(params[field])

		if value == "" {
			if rule.Required {
				findings[field] = "required"
			}
			continue
		}

		if rule.MaxLength > 0 && len(value) > rule.MaxLength {
			findings[field] = fmt.Sprintf("longer than %d characters", rule.MaxLength)
			continue
		}
		if re, ok := s.patterns[field]; ok && !re.MatchString(value) {
			findings[field] = "does not match expected format"
			continue
		}
		if program, ok := s.programs[field]; ok {
			out, _, err := program.Eval(map[string]any{
				"value":  value,
				"params": params,
			})
			if err != nil {
				findings[field] = "expression evaluation failed"
				continue
			}
			if out != types.True {
				findings[field] = "rejected by validation rule"
				continue
			}
		}
		params[field] = value
	}

	if len(findings) > 0 {
		return Stop(ShortCircuit{Err: httperr.Validation("request validation failed", findings)})
	}

	return ProceedWith(Continue{Values: map[string]any{"params": params}})
}
