package handlers

import (
	"context"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"

	"github.com/drblury/kernelbus/internal/runtime/bodies"
	"github.com/drblury/kernelbus/internal/runtime/envelope"
	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
)

// Proto converts fn into an untyped handler for ProtoBody envelopes carrying
// an M. The returned prototype is what the catalog and the assistant key on.
func Proto[M proto.Message](replier Replier, fn func(ctx context.Context, req Request[M]) error) (*bodies.ProtoBody, Func, error) {
	if fn == nil {
		return nil, nil, errspkg.ErrHandlerRequired
	}
	msg, err := NewProtoPrototype[M]()
	if err != nil {
		return nil, nil, err
	}
	prototype := &bodies.ProtoBody{Message: msg}

	return prototype, func(ctx context.Context, env envelope.Envelope) error {
		pb, ok := env.Body.(*bodies.ProtoBody)
		if !ok || pb == nil {
			return fmt.Errorf("%w: %s carries %T, want *bodies.ProtoBody", errspkg.ErrInvalidBodyKind, env.Kind(), env.Body)
		}
		typed, ok := pb.Message.(M)
		if !ok {
			return fmt.Errorf("%w: proto body carries %T, want %T", errspkg.ErrInvalidBodyKind, pb.Message, msg)
		}
		return fn(ctx, Request[M]{Envelope: env, Body: typed, replier: replier})
	}, nil
}

// NewProtoPrototype allocates an empty M. M must be a pointer message type.
func NewProtoPrototype[M proto.Message]() (M, error) {
	var zero M
	typ := reflect.TypeOf((*M)(nil)).Elem()
	if typ.Kind() != reflect.Ptr {
		return zero, fmt.Errorf("%w: %s is not a pointer message type", errspkg.ErrInvalidBodyKind, typ)
	}

	inst, ok := reflect.New(typ.Elem()).Interface().(M)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return inst, nil
}
