package handlers

import (
	"context"
	"fmt"
	"reflect"

	"github.com/drblury/kernelbus/internal/runtime/envelope"
	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
)

// Typed converts fn into an untyped handler plus the prototype whose kind it
// should be registered under. T may be a value or a pointer body type.
func Typed[T envelope.Body](replier Replier, fn func(ctx context.Context, req Request[T]) error) (envelope.Body, Func, error) {
	if fn == nil {
		return nil, nil, errspkg.ErrHandlerRequired
	}
	prototype, err := Prototype[T]()
	if err != nil {
		return nil, nil, err
	}

	return prototype, func(ctx context.Context, env envelope.Envelope) error {
		body, ok := env.Body.(T)
		if !ok {
			return fmt.Errorf("%w: %s carries %T, want %T", errspkg.ErrInvalidBodyKind, env.Kind(), env.Body, prototype)
		}
		return fn(ctx, Request[T]{Envelope: env, Body: body, replier: replier})
	}, nil
}

// Prototype returns a zero body of type T with a usable Kind. Pointer types
// get a freshly allocated element.
func Prototype[T envelope.Body]() (T, error) {
	var zero T
	typ := reflect.TypeOf((*T)(nil)).Elem()

	switch typ.Kind() {
	case reflect.Interface:
		return zero, fmt.Errorf("%w: %s is an interface type", errspkg.ErrInvalidBodyKind, typ)
	case reflect.Ptr:
		prototype, ok := reflect.New(typ.Elem()).Interface().(T)
		if !ok {
			return zero, fmt.Errorf("unexpected prototype type %s", typ)
		}
		if prototype.Kind() == "" {
			return zero, errspkg.ErrInvalidBodyKind
		}
		return prototype, nil
	default:
		if zero.Kind() == "" {
			return zero, errspkg.ErrInvalidBodyKind
		}
		return zero, nil
	}
}
