package invoker

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

var expressionEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("messagingType", cel.StringType),
		cel.Variable("topic", cel.StringType),
		cel.Variable("groupId", cel.StringType),
		cel.Variable("destination", cel.StringType),
		cel.Variable("key", cel.StringType),
		cel.Variable("payload", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("body", cel.DynType),
	)
})

// Expression is a compiled argument expression evaluated against a MessagingContext.
type Expression struct {
	source    string
	program   cel.Program
	needsBody bool
}

// CompileExpression parses and type-checks src.
func CompileExpression(src string) (*Expression, error) {
	env, err := expressionEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}
	ast, iss := env.Compile(src)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", src, iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", src, err)
	}
	return &Expression{
		source:    src,
		program:   prg,
		needsBody: referencesIdent(ast, "body"),
	}, nil
}

// referencesIdent reports whether the checked ast resolves an identifier to name.
// Map keys and string literals that merely spell the name do not count.
func referencesIdent(ast *cel.Ast, name string) bool {
	for _, r := range ast.NativeRep().ReferenceMap() {
		if r != nil && r.Name == name {
			return true
		}
	}
	return false
}

func (e *Expression) String() string { return e.source }

// Eval evaluates the expression and returns the raw CEL value.
func (e *Expression) Eval(mctx *messaging.MessagingContext) (ref.Val, error) {
	vars, err := e.activation(mctx)
	if err != nil {
		return nil, err
	}
	out, _, err := e.program.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %q: %w", e.source, err)
	}
	return out, nil
}

func (e *Expression) activation(mctx *messaging.MessagingContext) (map[string]any, error) {
	vars := map[string]any{
		"messagingType": mctx.Type.String(),
		"topic":         mctx.Topic,
		"groupId":       mctx.GroupID,
		"destination":   "",
		"key":           "",
		"payload":       "",
		"headers":       map[string]string{},
		"body":          nil,
	}
	msg := mctx.Message
	if msg == nil {
		return vars, nil
	}

	payload, err := msg.PayloadBytes()
	if err != nil {
		return nil, err
	}
	vars["destination"] = msg.Destination
	vars["key"] = msg.MessageKey
	vars["payload"] = string(payload)
	if msg.Headers != nil {
		vars["headers"] = msg.Headers
	}
	if e.needsBody && len(payload) > 0 {
		var body any
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, fmt.Errorf("payload is not JSON: %w", err)
		}
		vars["body"] = body
	}
	return vars, nil
}

// celToValue converts an expression result to a handler parameter value.
func celToValue(out ref.Val, target reflect.Type) (reflect.Value, error) {
	if out == nil || out.Type() == types.NullType {
		return reflect.Zero(target), nil
	}
	if target.Kind() == reflect.Interface {
		return nativeToValue(out.Value(), target)
	}
	native, err := out.ConvertToNative(target)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot convert %s to %s: %w", out.Type().TypeName(), target, err)
	}
	return nativeToValue(native, target)
}
