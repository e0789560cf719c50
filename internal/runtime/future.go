package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/drblury/kernelbus/internal/runtime/envelope"
	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
)

// ReplyFuture is the pending result of Assistant.SendWithReply. It completes
// exactly once, either with the reply body or by cancellation.
type ReplyFuture struct {
	id    envelope.MessageID
	owner *Assistant

	once      sync.Once
	done      chan struct{}
	body      envelope.Body
	cancelled bool
}

func newReplyFuture(id envelope.MessageID, owner *Assistant) *ReplyFuture {
	return &ReplyFuture{id: id, owner: owner, done: make(chan struct{})}
}

// ID is the id of the request this future waits on.
func (f *ReplyFuture) ID() envelope.MessageID { return f.id }

// Done is closed once the future completes or is cancelled.
func (f *ReplyFuture) Done() <-chan struct{} { return f.done }

func (f *ReplyFuture) complete(body envelope.Body) bool {
	completed := false
	f.once.Do(func() {
		f.body = body
		completed = true
		close(f.done)
	})
	return completed
}

func (f *ReplyFuture) abandon() {
	f.once.Do(func() {
		f.cancelled = true
		close(f.done)
	})
}

// Await blocks until the reply arrives or ctx ends. Giving up through ctx does
// not cancel the future; call Cancel to stop waiting for good.
func (f *ReplyFuture) Await(ctx context.Context) (envelope.Body, error) {
	select {
	case <-f.done:
		if f.cancelled {
			return nil, errspkg.ErrReplyCancelled
		}
		return f.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the reply without blocking. ok is false while the reply is
// outstanding and after cancellation.
func (f *ReplyFuture) Result() (envelope.Body, bool) {
	select {
	case <-f.done:
		if f.cancelled {
			return nil, false
		}
		return f.body, true
	default:
		return nil, false
	}
}

// Cancel stops waiting. A reply arriving later is dropped.
func (f *ReplyFuture) Cancel() {
	if f.owner != nil {
		f.owner.cancelPending(f.id)
	}
	f.abandon()
}

// AwaitReply waits for f and asserts the reply's concrete type.
func AwaitReply[T envelope.Body](ctx context.Context, f *ReplyFuture) (T, error) {
	var zero T
	body, err := f.Await(ctx)
	if err != nil {
		return zero, err
	}
	typed, ok := body.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %s (%T), want %T", errspkg.ErrUnexpectedReply, body.Kind(), body, zero)
	}
	return typed, nil
}
