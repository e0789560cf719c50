package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/drblury/kernelbus/internal/runtime/bodies"
	configpkg "github.com/drblury/kernelbus/internal/runtime/config"
	"github.com/drblury/kernelbus/internal/runtime/envelope"
	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
	loggingpkg "github.com/drblury/kernelbus/internal/runtime/logging"
)

// Handler processes an inbound request of one body kind.
type Handler func(ctx context.Context, env envelope.Envelope) error

// AssistantOption configures an Assistant.
type AssistantOption func(*Assistant)

// WithSettledReplyTTL sets how long answered request ids are remembered so a
// duplicate reply is dropped instead of parked. Parked replies nobody claims
// expire after the same period. Zero or less keeps both forever.
func WithSettledReplyTTL(ttl time.Duration) AssistantOption {
	return func(a *Assistant) {
		a.settledTTL = ttl
		a.ttlSet = true
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) AssistantOption {
	return func(a *Assistant) {
		if now != nil {
			a.now = now
		}
	}
}

type installedHandler struct {
	prototype envelope.Body
	handle    Handler
}

type parkedReply struct {
	body envelope.Body
	at   time.Time
}

// Assistant pairs the requests a service sends with the replies it receives
// and dispatches inbound requests to per-kind handlers.
//
// A request id lives in at most one of three tables: unanswered (a caller
// waits), preAnswered (the reply won the race against SendWithReply) and
// settled (completed, kept to recognise duplicate replies).
type Assistant struct {
	mu       sync.Mutex
	pipeline *Pipeline
	own      envelope.Address
	logger   loggingpkg.ServiceLogger

	handlers    map[envelope.BodyKind]installedHandler
	unanswered  map[envelope.MessageID]*ReplyFuture
	preAnswered map[envelope.MessageID]parkedReply
	settled     map[envelope.MessageID]time.Time

	settledTTL time.Duration
	ttlSet     bool
	now        func() time.Time
}

// NewAssistant returns an unbound assistant.
func NewAssistant(opts ...AssistantOption) *Assistant {
	a := &Assistant{
		handlers:    make(map[envelope.BodyKind]installedHandler),
		unanswered:  make(map[envelope.MessageID]*ReplyFuture),
		preAnswered: make(map[envelope.MessageID]parkedReply),
		settled:     make(map[envelope.MessageID]time.Time),
		settledTTL:  configpkg.DefaultSettledReplyTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Bind attaches the assistant to p under own and registers the body kinds of
// already installed handlers in the pipeline catalog. A nil log selects the
// pipeline logger.
func (a *Assistant) Bind(p *Pipeline, own envelope.Address, log loggingpkg.ServiceLogger) error {
	if p == nil {
		return errspkg.ErrMissingPipeline
	}
	if own.IsNobody() {
		return errspkg.ErrEmptyAddress
	}
	if log == nil {
		log = p.Logger
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pipeline != nil {
		return errspkg.ErrAlreadyBound
	}
	for _, installed := range a.handlers {
		if err := p.Catalog().Register(installed.prototype); err != nil {
			return err
		}
	}
	a.pipeline = p
	a.own = own
	a.logger = log.With(loggingpkg.LogFields{"address": own.Name()})
	if !a.ttlSet && p.Conf != nil && p.Conf.SettledReplyTTL > 0 {
		a.settledTTL = p.Conf.SettledReplyTTL
	}
	return nil
}

// Unbind detaches the assistant. Outstanding futures stay pending and can
// still be completed through Receive.
func (a *Assistant) Unbind() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pipeline = nil
	a.own = envelope.Nobody
}

// Pipeline returns the bound pipeline, or nil.
func (a *Assistant) Pipeline() *Pipeline {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pipeline
}

// RegisterHandler installs h for prototype's body kind and, once bound, adds
// the kind to the pipeline catalog. The first handler registered for a kind
// wins; later ones are ignored.
func (a *Assistant) RegisterHandler(prototype envelope.Body, h Handler) error {
	if bodies.IsNil(prototype) || prototype.Kind() == "" {
		return errspkg.ErrInvalidBodyKind
	}
	if h == nil {
		return errspkg.ErrHandlerRequired
	}

	kind := prototype.Kind()
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.handlers[kind]; exists {
		return nil
	}
	if a.pipeline != nil {
		if err := a.pipeline.Catalog().Register(prototype); err != nil {
			return err
		}
	}
	a.handlers[kind] = installedHandler{prototype: prototype, handle: h}
	return nil
}

// HasHandler reports whether a handler is installed for kind.
func (a *Assistant) HasHandler(kind envelope.BodyKind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.handlers[kind]
	return ok
}

// Send sends body from the bound address to recipient.
func (a *Assistant) Send(ctx context.Context, recipient envelope.Address, body envelope.Body, inReplyTo envelope.MessageID) (envelope.MessageID, error) {
	p, own, err := a.route(recipient)
	if err != nil {
		return envelope.NoMessageID, err
	}
	return p.Send(ctx, own, recipient, body, inReplyTo)
}

// Reply answers req with body.
func (a *Assistant) Reply(ctx context.Context, req envelope.Envelope, body envelope.Body) (envelope.MessageID, error) {
	return a.Send(ctx, req.Header.Sender(), body, req.Header.ID())
}

// SendWithReply sends body and returns a future for the reply to it.
func (a *Assistant) SendWithReply(ctx context.Context, recipient envelope.Address, body envelope.Body, inReplyTo envelope.MessageID) (*ReplyFuture, error) {
	id, err := a.Send(ctx, recipient, body, inReplyTo)
	if err != nil {
		return nil, err
	}

	future := newReplyFuture(id, a)

	a.mu.Lock()
	// The reply may have been received between Send returning and here.
	if parked, ok := a.preAnswered[id]; ok {
		delete(a.preAnswered, id)
		a.settled[id] = a.now()
		a.mu.Unlock()
		future.complete(parked.body)
		return future, nil
	}
	a.unanswered[id] = future
	pending := len(a.unanswered)
	p, own := a.pipeline, a.own
	a.mu.Unlock()

	a.reportPending(p, own, pending)
	return future, nil
}

func (a *Assistant) route(recipient envelope.Address) (*Pipeline, envelope.Address, error) {
	if recipient.IsNobody() {
		return nil, envelope.Nobody, errspkg.ErrRecipientRequired
	}

	a.mu.Lock()
	p, own := a.pipeline, a.own
	a.mu.Unlock()

	if p == nil {
		return nil, envelope.Nobody, errspkg.ErrMissingPipeline
	}
	if recipient == own {
		return nil, envelope.Nobody, errspkg.NewAddressError("send", own.Name(),
			errors.Join(errspkg.ErrUnknownAddress, errspkg.ErrSelfAddressed))
	}
	return p, own, nil
}

// Receive handles one inbound envelope: replies complete or park a pending
// request, other messages go to the handler of their body kind. Handler
// failures are logged; only those marked Retryable are returned so the
// delivery can be retried.
func (a *Assistant) Receive(ctx context.Context, env envelope.Envelope) error {
	if bodies.IsNil(env.Body) {
		return errspkg.ErrBodyRequired
	}
	if env.IsReply() {
		a.receiveReply(env)
		return nil
	}
	return a.receiveRequest(ctx, env)
}

func (a *Assistant) receiveReply(env envelope.Envelope) {
	id := env.Header.InReplyTo()
	fields := envelopeFields(env)

	a.mu.Lock()
	now := a.now()
	a.pruneLocked(now)
	p, own := a.pipeline, a.own
	logger := a.log()

	if future, ok := a.unanswered[id]; ok {
		delete(a.unanswered, id)
		a.settled[id] = now
		pending := len(a.unanswered)
		a.mu.Unlock()

		future.complete(env.Body)
		a.reportPending(p, own, pending)
		logger.Trace("Reply delivered", fields)
		return
	}

	_, settled := a.settled[id]
	_, parked := a.preAnswered[id]
	if settled || parked {
		a.mu.Unlock()
		logger.Debug("Dropping duplicate reply", fields)
		p.metricsOrNil().RecordReplyDropped(own, "duplicate")
		return
	}

	a.preAnswered[id] = parkedReply{body: env.Body, at: now}
	a.mu.Unlock()
	logger.Trace("Reply parked until its request is registered", fields)
}

func (a *Assistant) receiveRequest(ctx context.Context, env envelope.Envelope) error {
	a.mu.Lock()
	installed, ok := a.handlers[env.Kind()]
	logger := a.log()
	a.mu.Unlock()

	fields := envelopeFields(env)
	if !ok {
		logger.Debug("No handler for body kind, dropping message", fields)
		return nil
	}

	if err := invokeHandler(ctx, installed.handle, env); err != nil {
		logger.Error("Handler failed", err, fields)
		if errspkg.IsRetryable(err) {
			return err
		}
	}
	return nil
}

func invokeHandler(ctx context.Context, h Handler, env envelope.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, env)
}

// pruneLocked expires settled ids and parked replies older than the TTL.
func (a *Assistant) pruneLocked(now time.Time) {
	if a.settledTTL <= 0 {
		return
	}
	cutoff := now.Add(-a.settledTTL)
	for id, at := range a.settled {
		if at.Before(cutoff) {
			delete(a.settled, id)
		}
	}
	for id, parked := range a.preAnswered {
		if parked.at.Before(cutoff) {
			delete(a.preAnswered, id)
			a.pipeline.metricsOrNil().RecordReplyDropped(a.own, "expired")
		}
	}
}

// cancelPending removes id from the unanswered table; a late reply then
// counts as a duplicate.
func (a *Assistant) cancelPending(id envelope.MessageID) {
	a.mu.Lock()
	if _, ok := a.unanswered[id]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.unanswered, id)
	a.settled[id] = a.now()
	pending := len(a.unanswered)
	p, own := a.pipeline, a.own
	a.mu.Unlock()

	a.reportPending(p, own, pending)
}

// Forget discards any state kept for id: a waiting future is cancelled and a
// parked reply is dropped. It reports whether anything was removed.
func (a *Assistant) Forget(id envelope.MessageID) bool {
	a.mu.Lock()
	future, waiting := a.unanswered[id]
	_, parked := a.preAnswered[id]
	if parked {
		delete(a.preAnswered, id)
		a.settled[id] = a.now()
	}
	a.mu.Unlock()

	if waiting {
		future.Cancel()
	}
	return waiting || parked
}

// Pending returns the number of requests waiting for a reply.
func (a *Assistant) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.unanswered)
}

// Parked returns the number of replies received before their request was
// registered.
func (a *Assistant) Parked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.preAnswered)
}

func (a *Assistant) log() loggingpkg.ServiceLogger {
	if a.logger == nil {
		return loggingpkg.NewDiscardServiceLogger()
	}
	return a.logger
}

func (a *Assistant) reportPending(p *Pipeline, own envelope.Address, pending int) {
	if own.IsNobody() {
		return
	}
	p.metricsOrNil().SetPendingReplies(own, pending)
}

func (p *Pipeline) metricsOrNil() *PipelineMetrics {
	if p == nil {
		return nil
	}
	return p.metrics
}
