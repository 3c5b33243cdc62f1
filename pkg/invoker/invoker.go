package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

var (
	unifiedMessagePtrType = reflect.TypeOf((*messaging.UnifiedMessage)(nil))
	unifiedMessageType    = reflect.TypeOf(messaging.UnifiedMessage{})
	messagingContextType  = reflect.TypeOf((*messaging.MessagingContext)(nil))
	contextType           = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType             = reflect.TypeOf((*error)(nil)).Elem()
	bytesType             = reflect.TypeOf([]byte(nil))
	rawJSONType           = reflect.TypeOf(json.RawMessage(nil))
	stringType            = reflect.TypeOf("")
)

type binder func(ctx context.Context, mctx *messaging.MessagingContext) (reflect.Value, error)

// HandlerMethodInvoker calls a user handler with arguments bound from a MessagingContext.
// The binding plan is built once at construction.
type HandlerMethodInvoker struct {
	target   string
	fn       reflect.Value
	binders  []binder
	errIndex int
	resolver ErrorHandlerResolver
}

// New builds the invoker for cfg. Failures here are registration errors.
func New(cfg messaging.ListenerConfig, resolver ErrorHandlerResolver) (*HandlerMethodInvoker, error) {
	fn, err := resolveFunc(cfg)
	if err != nil {
		return nil, err
	}
	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, fmt.Errorf("variadic handler %s is not supported", cfg.Identity())
	}

	args := make(map[int]messaging.ArgumentResolverConfig, len(cfg.Arguments))
	for _, a := range cfg.Arguments {
		if a.Index < 0 || a.Index >= ft.NumIn() {
			return nil, fmt.Errorf("argument index %d out of range for %s with %d parameters", a.Index, cfg.Identity(), ft.NumIn())
		}
		if _, dup := args[a.Index]; dup {
			return nil, fmt.Errorf("argument index %d configured twice", a.Index)
		}
		if a.Extract == nil && a.Expression == "" {
			return nil, fmt.Errorf("argument %d needs an expression or an extract function", a.Index)
		}
		args[a.Index] = a
	}

	binders := make([]binder, ft.NumIn())
	for i := range binders {
		b, err := planParameter(i, ft.In(i), args)
		if err != nil {
			return nil, err
		}
		binders[i] = b
	}

	errIndex := -1
	if n := ft.NumOut(); n > 0 && ft.Out(n-1) == errorType {
		errIndex = n - 1
	}

	return &HandlerMethodInvoker{
		target:   cfg.Identity(),
		fn:       fn,
		binders:  binders,
		errIndex: errIndex,
		resolver: resolver,
	}, nil
}

func resolveFunc(cfg messaging.ListenerConfig) (reflect.Value, error) {
	if cfg.Handler != nil {
		fn := reflect.ValueOf(cfg.Handler)
		if fn.Kind() != reflect.Func {
			return reflect.Value{}, fmt.Errorf("handler must be a function, got %T", cfg.Handler)
		}
		return fn, nil
	}
	if cfg.Target == nil || cfg.Method == "" {
		return reflect.Value{}, errors.New("listener needs either a Handler or a Target and Method")
	}
	fn := reflect.ValueOf(cfg.Target).MethodByName(cfg.Method)
	if !fn.IsValid() {
		return reflect.Value{}, fmt.Errorf("%T has no exported method %q", cfg.Target, cfg.Method)
	}
	return fn, nil
}

// planParameter picks the binding for one parameter. Well-known types bind by
// type, then a configured resolver applies, then raw payload types take the payload.
func planParameter(i int, pt reflect.Type, args map[int]messaging.ArgumentResolverConfig) (binder, error) {
	switch pt {
	case unifiedMessagePtrType:
		return func(_ context.Context, m *messaging.MessagingContext) (reflect.Value, error) {
			return reflect.ValueOf(m.Message), nil
		}, nil
	case unifiedMessageType:
		return func(_ context.Context, m *messaging.MessagingContext) (reflect.Value, error) {
			if m.Message == nil {
				return reflect.Zero(pt), nil
			}
			return reflect.ValueOf(*m.Message), nil
		}, nil
	case messagingContextType:
		return func(_ context.Context, m *messaging.MessagingContext) (reflect.Value, error) {
			return reflect.ValueOf(m), nil
		}, nil
	case contextType:
		return func(ctx context.Context, _ *messaging.MessagingContext) (reflect.Value, error) {
			return reflect.ValueOf(&ctx).Elem(), nil
		}, nil
	}

	if a, ok := args[i]; ok {
		if a.Extract != nil {
			extract := a.Extract
			return func(_ context.Context, m *messaging.MessagingContext) (reflect.Value, error) {
				v, err := extract(m)
				if err != nil {
					return reflect.Value{}, err
				}
				return nativeToValue(v, pt)
			}, nil
		}
		expr, err := CompileExpression(a.Expression)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		return func(_ context.Context, m *messaging.MessagingContext) (reflect.Value, error) {
			out, err := expr.Eval(m)
			if err != nil {
				return reflect.Value{}, err
			}
			return celToValue(out, pt)
		}, nil
	}

	if pt == bytesType || pt == rawJSONType || pt == stringType {
		return func(_ context.Context, m *messaging.MessagingContext) (reflect.Value, error) {
			if m.Message == nil {
				return reflect.Zero(pt), nil
			}
			b, err := m.Message.PayloadBytes()
			if err != nil {
				return reflect.Value{}, err
			}
			if pt.Kind() == reflect.String {
				return reflect.ValueOf(string(b)), nil
			}
			return reflect.ValueOf(b).Convert(pt), nil
		}, nil
	}

	return func(context.Context, *messaging.MessagingContext) (reflect.Value, error) {
		return reflect.Zero(pt), nil
	}, nil
}

func nativeToValue(v any, target reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(target), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(target) {
		if target.Kind() == reflect.Interface {
			out := reflect.New(target).Elem()
			out.Set(rv)
			return out, nil
		}
		return rv, nil
	}
	if sameKindFamily(rv.Kind(), target.Kind()) && rv.Type().ConvertibleTo(target) {
		return rv.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot bind %T to parameter of type %s", v, target)
}

// sameKindFamily blocks reflect conversions that change meaning, like int to string.
func sameKindFamily(a, b reflect.Kind) bool {
	return kindFamily(a) != 0 && kindFamily(a) == kindFamily(b)
}

func kindFamily(k reflect.Kind) int {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return 1
	case reflect.String:
		return 2
	case reflect.Bool:
		return 3
	case reflect.Slice, reflect.Map:
		return 4
	}
	return 0
}

// Target is the identity of the wrapped handler.
func (i *HandlerMethodInvoker) Target() string { return i.target }

// Invoke binds arguments and calls the handler. Handler errors and panics are
// routed to the error hook for mctx.Type and do not reach the caller.
func (i *HandlerMethodInvoker) Invoke(ctx context.Context, mctx *messaging.MessagingContext) error {
	if ctx == nil {
		ctx = context.Background()
	}
	err := i.call(ctx, mctx)
	if err == nil {
		return nil
	}

	invErr := &messaging.InvocationError{Target: i.target, Type: mctx.Type, Topic: mctx.Topic, Err: err}
	var hook ErrorHandler
	ok := false
	if i.resolver != nil {
		hook, ok = i.resolver.ErrorHandler(mctx.Type)
	}
	if !ok {
		return fmt.Errorf("%w for %s: %w", messaging.ErrNoErrorHandler, mctx.Type, invErr)
	}
	return runHook(ctx, hook, invErr, mctx)
}

// runHook keeps a panicking error hook from reaching the container goroutine.
// The container logs the returned error.
func runHook(ctx context.Context, hook ErrorHandler, invErr *messaging.InvocationError, mctx *messaging.MessagingContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("error hook for %s panicked: %v: %w", mctx.Type, r, invErr)
		}
	}()
	hook(ctx, invErr, mctx)
	return nil
}

func (i *HandlerMethodInvoker) call(ctx context.Context, mctx *messaging.MessagingContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	args := make([]reflect.Value, len(i.binders))
	for idx, bind := range i.binders {
		v, err := bind(ctx, mctx)
		if err != nil {
			return fmt.Errorf("failed to bind parameter %d: %w", idx, err)
		}
		args[idx] = v
	}

	out := i.fn.Call(args)
	if i.errIndex >= 0 {
		if e, _ := out[i.errIndex].Interface().(error); e != nil {
			return e
		}
	}
	return nil
}
