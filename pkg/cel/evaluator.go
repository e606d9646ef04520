package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"chatbridge/pkg/models"
)

// Evaluator compiles and runs operator-supplied ignore expressions
// against canonical messages. Expressions are compiled once at
// construction; a rule that returns true marks the message as ignored.
type Evaluator struct {
	env      *cel.Env
	programs []compiledRule
}

type compiledRule struct {
	expression string
	program    cel.Program
}

func NewEvaluator(expressions []string) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("direction", cel.StringType),
		cel.Variable("chat_id", cel.StringType),
		cel.Variable("sender_name", cel.StringType),
		cel.Variable("text", cel.StringType),
		cel.Variable("media_type", cel.StringType),
		cel.Variable("has_media", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Evaluator{env: env}
	for _, expr := range expressions {
		program, err := e.compile(expr)
		if err != nil {
			return nil, err
		}
		e.programs = append(e.programs, compiledRule{expression: expr, program: program})
	}

	return e, nil
}

func (e *Evaluator) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression %q: %w", expression, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("ignore expression %q must return bool, got %v", expression, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program for %q: %w", expression, err)
	}

	return program, nil
}

// RuleCount reports how many ignore rules are active.
func (e *Evaluator) RuleCount() int {
	return len(e.programs)
}

// ShouldIgnore runs every rule against msg and returns the expression of
// the first rule that matched. Evaluation errors skip the offending rule
// rather than blocking the message.
func (e *Evaluator) ShouldIgnore(ctx context.Context, msg models.Message) (bool, string, error) {
	if len(e.programs) == 0 {
		return false, "", nil
	}

	vars := map[string]interface{}{
		"id":          msg.ID,
		"direction":   string(msg.Direction),
		"chat_id":     msg.ChatID,
		"sender_name": msg.SenderName,
		"text":        msg.Text,
		"media_type":  string(msg.MediaType),
		"has_media":   msg.HasMedia(),
	}

	var lastErr error
	for _, rule := range e.programs {
		result, _, err := rule.program.ContextEval(ctx, vars)
		if err != nil {
			lastErr = fmt.Errorf("failed to evaluate CEL expression %q: %w", rule.expression, err)
			continue
		}

		matched, ok := result.Value().(bool)
		if !ok {
			lastErr = fmt.Errorf("CEL expression %q did not return bool, got %T", rule.expression, result.Value())
			continue
		}

		if matched {
			return true, rule.expression, nil
		}
	}

	return false, "", lastErr
}
