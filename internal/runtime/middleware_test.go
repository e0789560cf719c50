package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	configpkg "github.com/drblury/kernelbus/internal/runtime/config"
	"github.com/drblury/kernelbus/internal/runtime/envelope"
	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
	idspkg "github.com/drblury/kernelbus/internal/runtime/ids"
	loggingpkg "github.com/drblury/kernelbus/internal/runtime/logging"
	metadatapkg "github.com/drblury/kernelbus/internal/runtime/metadata"
)

func bareHandler(*message.Message) ([]*message.Message, error) { return nil, nil }

func newBarePipeline(conf *configpkg.Config) *Pipeline {
	if conf == nil {
		conf = configpkg.Default()
	}
	return &Pipeline{
		Conf:            conf,
		Logger:          loggingpkg.NewDiscardServiceLogger(),
		listeners:       make(map[envelope.Address]*listenerEntry),
		senders:         make(map[envelope.Address]Sender),
		errorClassifier: defaultErrorClassifier,
		tracer:          noop.NewTracerProvider().Tracer(tracerName),
	}
}

func TestCorrelationIDMiddleware(t *testing.T) {
	t.Parallel()

	mw := CorrelationIDMiddleware().Middleware

	t.Run("adds missing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.CreateULID(), nil)
		called := false
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			called = true
			if m.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
				t.Fatal("expected correlation id to be populated")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !called {
			t.Fatal("handler not invoked")
		}
	})

	t.Run("keeps existing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.CreateULID(), nil)
		msg.Metadata.Set(metadatapkg.KeyCorrelationID, "fixed")
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			if m.Metadata.Get(metadatapkg.KeyCorrelationID) != "fixed" {
				t.Fatal("expected correlation id to be preserved")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestOptionalMiddlewaresSkipWhenDisabled(t *testing.T) {
	t.Parallel()

	p := newBarePipeline(nil)
	for _, reg := range []MiddlewareRegistration{
		LogDeliveriesMiddleware(nil),
		MetricsMiddleware(),
		HooksMiddleware(),
		TimeoutMiddleware(),
		ConfiguredRetryMiddleware(),
		RetryMiddleware(RetryMiddlewareConfig{}),
	} {
		mw, err := reg.resolve(p)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", reg.Name, err)
		}
		if mw != nil {
			t.Fatalf("%s: expected nil middleware with default configuration", reg.Name)
		}
	}
}

func TestLogDeliveriesMiddleware(t *testing.T) {
	t.Parallel()

	conf := configpkg.Default()
	conf.LogDeliveries = true
	p := newBarePipeline(conf)

	logger := &capturingLogger{}
	mw, err := LogDeliveriesMiddleware(logger).resolve(p)
	if err != nil || mw == nil {
		t.Fatalf("expected middleware, got %v, %v", mw, err)
	}

	msg := hookedMessage(t)
	if _, err := mw(bareHandler)(msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := logger.messages(); len(got) != 1 || got[0] != "Delivering message" {
		t.Fatalf("unexpected log messages %v", got)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Parallel()

	conf := configpkg.Default()
	conf.DeliveryTimeout = 50 * time.Millisecond
	mw, err := TimeoutMiddleware().resolve(newBarePipeline(conf))
	if err != nil || mw == nil {
		t.Fatalf("expected middleware, got %v, %v", mw, err)
	}

	msg := message.NewMessage("m", nil)
	_, err = mw(func(m *message.Message) ([]*message.Message, error) {
		if _, ok := m.Context().Deadline(); !ok {
			t.Fatal("expected a deadline on the delivery context")
		}
		return nil, nil
	})(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRetryMiddleware(t *testing.T) {
	t.Parallel()

	p := newBarePipeline(nil)
	mw, err := RetryMiddleware(RetryMiddlewareConfig{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}).resolve(p)
	if err != nil || mw == nil {
		t.Fatalf("expected middleware, got %v, %v", mw, err)
	}

	t.Run("retries retryable errors", func(t *testing.T) {
		attempts := 0
		_, err := mw(func(*message.Message) ([]*message.Message, error) {
			attempts++
			if attempts < 2 {
				return nil, errspkg.Retryable(errors.New("busy"))
			}
			return nil, nil
		})(message.NewMessage("m", nil))
		if err != nil {
			t.Fatalf("unexpected error after retries: %v", err)
		}
		if attempts != 2 {
			t.Fatalf("expected 2 attempts, got %d", attempts)
		}
	})

	t.Run("gives up on permanent errors", func(t *testing.T) {
		attempts := 0
		permanent := errors.New("malformed")
		_, err := mw(func(*message.Message) ([]*message.Message, error) {
			attempts++
			return nil, permanent
		})(message.NewMessage("m", nil))
		if !errors.Is(err, permanent) {
			t.Fatalf("expected permanent error, got %v", err)
		}
		if attempts != 1 {
			t.Fatalf("expected a single attempt, got %d", attempts)
		}
	})
}

func TestRetryMiddlewareConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := RetryMiddlewareConfig{MaxRetries: 1}.withDefaults()
	if cfg.InitialInterval != 50*time.Millisecond || cfg.MaxInterval != 2*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.RetryIf(errspkg.Retryable(errors.New("x"))) || cfg.RetryIf(errors.New("x")) {
		t.Fatal("default RetryIf must follow errors.IsRetryable")
	}
}

type recordedSpan struct {
	name  string
	kind  trace.SpanKind
	attrs []attribute.KeyValue
}

type recordingTracer struct {
	noop.Tracer

	mu    sync.Mutex
	spans []recordedSpan
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	r.mu.Lock()
	r.spans = append(r.spans, recordedSpan{name: name, kind: cfg.SpanKind(), attrs: cfg.Attributes()})
	r.mu.Unlock()
	return r.Tracer.Start(ctx, name, opts...)
}

func (r *recordingTracer) recorded() []recordedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedSpan(nil), r.spans...)
}

type recordingTracerProvider struct {
	noop.TracerProvider
	tracer *recordingTracer
}

func (p recordingTracerProvider) Tracer(string, ...trace.TracerOption) trace.Tracer { return p.tracer }

func TestTracerMiddlewareStartsConsumerSpan(t *testing.T) {
	t.Parallel()

	tracer := &recordingTracer{}
	p := newBarePipeline(nil)
	p.tracer = tracer

	var observed trace.Span
	_, err := p.tracerMiddleware()(func(m *message.Message) ([]*message.Message, error) {
		observed = trace.SpanFromContext(m.Context())
		return nil, nil
	})(hookedMessage(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if observed == nil {
		t.Fatal("expected span to be attached to context")
	}

	spans := tracer.recorded()
	if len(spans) != 1 || spans[0].name != "kernelbus.deliver" || spans[0].kind != trace.SpanKindConsumer {
		t.Fatalf("unexpected spans %+v", spans)
	}
	attrs := attribute.NewSet(spans[0].attrs...)
	if v, ok := attrs.Value("kernelbus.recipient"); !ok || v.AsString() != "svc.B" {
		t.Fatalf("missing recipient attribute in %v", spans[0].attrs)
	}
	if v, ok := attrs.Value("kernelbus.reply"); !ok || !v.AsBool() {
		t.Fatalf("missing reply attribute in %v", spans[0].attrs)
	}
}

func TestPipelineUsesTracerProvider(t *testing.T) {
	tracer := &recordingTracer{}
	p := newTestPipeline(t, nil, PipelineDependencies{
		TracerProvider: recordingTracerProvider{tracer: tracer},
	})
	b := newRecordingListener(addrB)
	if err := p.RegisterListener(b); err != nil {
		t.Fatal(err)
	}
	if err := p.RegisterSender(SenderAt(addrA)); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Send(context.Background(), addrA, addrB, ping{}, envelope.NoMessageID); err != nil {
		t.Fatal(err)
	}
	b.next(t)

	deadline := time.Now().Add(time.Second)
	for len(tracer.recorded()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(tracer.recorded()) != 1 {
		t.Fatalf("expected one delivery span, got %d", len(tracer.recorded()))
	}
}

func TestBuildHandlerOrdersCustomMiddleware(t *testing.T) {
	t.Parallel()

	var order []string
	tag := func(name string) MiddlewareRegistration {
		return MiddlewareRegistration{
			Name: name,
			Middleware: func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					order = append(order, name)
					return h(msg)
				}
			},
		}
	}

	p := newBarePipeline(nil)
	handler, err := p.buildHandler(PipelineDependencies{
		DisableDefaultMiddlewares: true,
		Middlewares: []MiddlewareRegistration{
			tag("outer"),
			{Name: "skipped", Builder: func(*Pipeline) (message.HandlerMiddleware, error) { return nil, nil }},
			tag("inner"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// No envelope in the context: deliver rejects the message after the chain ran.
	_, err = handler(message.NewMessage("m", nil))
	if !errors.Is(err, errspkg.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument from deliver, got %v", err)
	}
	if strings.Join(order, ",") != "outer,inner" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestBuildHandlerRegistrationErrors(t *testing.T) {
	t.Parallel()

	p := newBarePipeline(nil)

	_, err := p.buildHandler(PipelineDependencies{
		DisableDefaultMiddlewares: true,
		Middlewares:               []MiddlewareRegistration{{}},
	})
	if err == nil || !strings.Contains(err.Error(), "anonymous_middleware") {
		t.Fatalf("expected anonymous registration error, got %v", err)
	}

	_, err = p.buildHandler(PipelineDependencies{
		Middlewares: []MiddlewareRegistration{{
			Name:    "broken",
			Builder: func(*Pipeline) (message.HandlerMiddleware, error) { return nil, errors.New("builder failed") },
		}},
	})
	if err == nil || !strings.Contains(err.Error(), "failed to register middleware broken") {
		t.Fatalf("expected builder error to propagate, got %v", err)
	}
}

func TestPipelineRetriesRetryableListenerErrors(t *testing.T) {
	p := newTestPipeline(t, func(c *configpkg.Config) {
		c.DeliveryRetries = 3
		c.RetryInitialInterval = time.Millisecond
		c.RetryMaxInterval = 5 * time.Millisecond
	}, PipelineDependencies{})

	var attempts atomic.Int32
	done := make(chan struct{})
	err := p.RegisterListener(NewListenerFunc(addrB, func(context.Context, envelope.Envelope) error {
		if attempts.Add(1) < 3 {
			return errspkg.Retryable(errors.New("store busy"))
		}
		close(done)
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.RegisterSender(SenderAt(addrA)); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Send(context.Background(), addrA, addrB, ping{}, envelope.NoMessageID); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery was not retried, attempts=%d", attempts.Load())
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

type capturingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (c *capturingLogger) record(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *capturingLogger) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func (c *capturingLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return c }
func (c *capturingLogger) Debug(msg string, _ loggingpkg.LogFields)          { c.record(msg) }
func (c *capturingLogger) Info(msg string, _ loggingpkg.LogFields)           { c.record(msg) }
func (c *capturingLogger) Error(msg string, _ error, _ loggingpkg.LogFields) { c.record(msg) }
func (c *capturingLogger) Trace(msg string, _ loggingpkg.LogFields)          { c.record(msg) }
