package runtime

import (
	"context"

	"google.golang.org/protobuf/proto"

	"github.com/drblury/kernelbus/internal/runtime/envelope"
	handlerpkg "github.com/drblury/kernelbus/internal/runtime/handlers"
)

// Request is the typed view of an inbound message handed to HandleFunc and
// HandleProto handlers.
type Request[T any] = handlerpkg.Request[T]

// HandleFunc registers a typed handler for T's body kind on a. T joins the
// pipeline catalog when a is bound, or later when it binds.
func HandleFunc[T envelope.Body](a *Assistant, fn func(ctx context.Context, req Request[T]) error) error {
	prototype, h, err := handlerpkg.Typed(a, fn)
	if err != nil {
		return err
	}
	return a.RegisterHandler(prototype, Handler(h))
}

// HandleProto registers a handler for ProtoBody messages of type M.
func HandleProto[M proto.Message](a *Assistant, fn func(ctx context.Context, req Request[M]) error) error {
	prototype, h, err := handlerpkg.Proto(a, fn)
	if err != nil {
		return err
	}
	return a.RegisterHandler(prototype, Handler(h))
}
