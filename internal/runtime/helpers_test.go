package runtime

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drblury/kernelbus/internal/runtime/bodies"
	configpkg "github.com/drblury/kernelbus/internal/runtime/config"
	"github.com/drblury/kernelbus/internal/runtime/envelope"
	idspkg "github.com/drblury/kernelbus/internal/runtime/ids"
	loggingpkg "github.com/drblury/kernelbus/internal/runtime/logging"
)

var (
	addrA = envelope.MustAddress("svc.A")
	addrB = envelope.MustAddress("svc.B")
	addrC = envelope.MustAddress("svc.C")
)

type ping struct {
	Seq int `json:"seq"`
}

func (ping) Kind() envelope.BodyKind { return "test.ping" }
func (ping) ResponseRequired() bool  { return true }
func (p ping) Copy() envelope.Body   { return p }

func (p ping) Equal(other envelope.Body) bool {
	o, ok := other.(ping)
	return ok && o == p
}

type pong struct {
	Seq int `json:"seq"`
}

func (pong) Kind() envelope.BodyKind { return "test.pong" }
func (pong) ResponseRequired() bool  { return false }
func (p pong) Copy() envelope.Body   { return p }

func (p pong) Equal(other envelope.Body) bool {
	o, ok := other.(pong)
	return ok && o == p
}

type loadProject struct {
	Path string   `json:"path"`
	Tags []string `json:"tags"`
}

func (*loadProject) Kind() envelope.BodyKind { return "project.load" }
func (*loadProject) ResponseRequired() bool  { return true }

func (b *loadProject) Copy() envelope.Body {
	return &loadProject{Path: b.Path, Tags: slices.Clone(b.Tags)}
}

func (b *loadProject) Equal(other envelope.Body) bool {
	o, ok := other.(*loadProject)
	return ok && o.Path == b.Path && slices.Equal(o.Tags, b.Tags)
}

// unlisted is never added to the test catalog.
type unlisted struct{}

func (unlisted) Kind() envelope.BodyKind        { return "test.unlisted" }
func (unlisted) ResponseRequired() bool         { return false }
func (u unlisted) Copy() envelope.Body          { return u }
func (unlisted) Equal(other envelope.Body) bool { _, ok := other.(unlisted); return ok }

// impostor claims ping's kind with a different type.
type impostor struct {
	Seq string `json:"seq"`
}

func (impostor) Kind() envelope.BodyKind { return "test.ping" }
func (impostor) ResponseRequired() bool  { return false }
func (i impostor) Copy() envelope.Body   { return i }

func (i impostor) Equal(other envelope.Body) bool {
	o, ok := other.(impostor)
	return ok && o == i
}

func testCatalog() *bodies.Catalog {
	return bodies.NewCatalog(ping{}, pong{}, &loadProject{})
}

func newTestPipeline(t *testing.T, mutate func(*configpkg.Config), deps PipelineDependencies) *Pipeline {
	t.Helper()

	conf := configpkg.Default()
	if mutate != nil {
		mutate(conf)
	}
	if deps.Catalog == nil {
		deps.Catalog = testCatalog()
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = idspkg.NewSequenceGenerator("msg-")
	}

	p, err := NewPipeline(conf, loggingpkg.NewDiscardServiceLogger(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// recordingListener captures every envelope it receives.
type recordingListener struct {
	addr     envelope.Address
	received chan envelope.Envelope
	handle   func(ctx context.Context, env envelope.Envelope) error

	mu    sync.Mutex
	count int
}

func newRecordingListener(addr envelope.Address) *recordingListener {
	return &recordingListener{addr: addr, received: make(chan envelope.Envelope, 256)}
}

func (l *recordingListener) Address() envelope.Address { return l.addr }

func (l *recordingListener) ProcessMessage(ctx context.Context, env envelope.Envelope) error {
	l.mu.Lock()
	l.count++
	l.mu.Unlock()

	l.received <- env
	if l.handle != nil {
		return l.handle(ctx, env)
	}
	return nil
}

func (l *recordingListener) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *recordingListener) next(t *testing.T) envelope.Envelope {
	t.Helper()
	select {
	case env := <-l.received:
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("listener %s received nothing", l.addr)
		return envelope.Envelope{}
	}
}

func (l *recordingListener) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case env := <-l.received:
		t.Fatalf("listener %s unexpectedly received %s", l.addr, env.Header.ID())
	case <-time.After(50 * time.Millisecond):
	}
}

func awaitBody(t *testing.T, f *ReplyFuture) envelope.Body {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	body, err := f.Await(ctx)
	require.NoError(t, err)
	return body
}
