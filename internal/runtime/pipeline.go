package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/kernelbus/internal/runtime/bodies"
	configpkg "github.com/drblury/kernelbus/internal/runtime/config"
	"github.com/drblury/kernelbus/internal/runtime/envelope"
	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
	idspkg "github.com/drblury/kernelbus/internal/runtime/ids"
	loggingpkg "github.com/drblury/kernelbus/internal/runtime/logging"
	metadatapkg "github.com/drblury/kernelbus/internal/runtime/metadata"
	transportpkg "github.com/drblury/kernelbus/internal/runtime/transport"
	dispatchers "github.com/drblury/kernelbus/transport"
)

const tracerName = "github.com/drblury/kernelbus"

// PipelineDependencies holds the optional collaborators of a Pipeline. Zero
// values select the defaults derived from the configuration.
type PipelineDependencies struct {
	IDGenerator               idspkg.Generator
	Catalog                   *bodies.Catalog
	DispatcherFactory         transportpkg.Factory
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips the default middleware chain when true.
	Hooks                     DeliveryHooks
	Metrics                   *PipelineMetrics
	ErrorClassifier           ErrorClassifier
	TracerProvider            trace.TracerProvider
}

type listenerEntry struct {
	listener Listener
	stats    *ListenerStats
}

// Pipeline routes envelopes between registered addresses. Each address may be
// registered at most once as a listener and at most once as a sender.
type Pipeline struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	mu        sync.RWMutex
	listeners map[envelope.Address]*listenerEntry
	senders   map[envelope.Address]Sender
	closed    bool

	ids        idspkg.Generator
	catalog    *bodies.Catalog
	dispatcher dispatchers.Dispatcher
	caps       dispatchers.Capabilities
	handler    message.HandlerFunc

	hooks           DeliveryHooks
	metrics         *PipelineMetrics
	errorClassifier ErrorClassifier
	tracer          trace.Tracer
	resources       *resourceSampler
	now             func() time.Time
}

// NewPipeline builds a Pipeline and its dispatcher. The configuration is
// validated first.
func NewPipeline(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps PipelineDependencies) (*Pipeline, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	p := &Pipeline{
		Conf:            conf,
		Logger:          log,
		listeners:       make(map[envelope.Address]*listenerEntry),
		senders:         make(map[envelope.Address]Sender),
		ids:             deps.IDGenerator,
		catalog:         deps.Catalog,
		hooks:           deps.Hooks,
		metrics:         deps.Metrics,
		errorClassifier: deps.ErrorClassifier,
		resources:       newResourceSampler(),
		now:             time.Now,
	}

	if p.ids == nil {
		gen, err := idspkg.New(conf.IDGenerator)
		if err != nil {
			return nil, errspkg.NewConfigValidationError(err)
		}
		p.ids = gen
	}
	if p.catalog == nil {
		p.catalog = bodies.NewCatalog()
	}
	if p.errorClassifier == nil {
		p.errorClassifier = defaultErrorClassifier
	}
	if p.metrics == nil && conf.MetricsEnabled {
		p.metrics = NewPipelineMetrics(conf.MetricsNamespace, prometheus.DefaultRegisterer)
	}
	if p.metrics != nil {
		if err := p.metrics.Register(); err != nil {
			return nil, fmt.Errorf("register pipeline metrics: %w", err)
		}
	}

	tp := deps.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	p.tracer = tp.Tracer(tracerName)

	factory := deps.DispatcherFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	dispatcher, caps, err := factory.Build(context.Background(), conf, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}
	p.dispatcher = dispatcher
	p.caps = caps

	handler, err := p.buildHandler(deps)
	if err != nil {
		_ = dispatcher.Close()
		return nil, err
	}
	p.handler = handler

	log.Info("Pipeline created", loggingpkg.LogFields{
		"dispatcher": caps.Name,
		"config":     conf,
	})
	return p, nil
}

// MustNewPipeline is NewPipeline for program setup; it panics on error.
func MustNewPipeline(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps PipelineDependencies) *Pipeline {
	p, err := NewPipeline(conf, log, deps)
	if err != nil {
		panic(err)
	}
	return p
}

// Catalog returns the body catalog used to validate and encode bodies.
func (p *Pipeline) Catalog() *bodies.Catalog { return p.catalog }

// Capabilities describes the dispatcher in use.
func (p *Pipeline) Capabilities() dispatchers.Capabilities { return p.caps }

// IsRegistered reports whether addr is present in either table.
func (p *Pipeline) IsRegistered(addr envelope.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, l := p.listeners[addr]
	_, s := p.senders[addr]
	return l || s
}

// IsRegisteredAsListener reports whether h's address has an inbox.
func (p *Pipeline) IsRegisteredAsListener(h envelope.Addressable) bool {
	if h == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.listeners[h.Address()]
	return ok
}

// IsRegisteredAsSender reports whether h's address may originate messages.
func (p *Pipeline) IsRegisteredAsSender(h envelope.Addressable) bool {
	if h == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.senders[h.Address()]
	return ok
}

// RegisterListener adds l to the listener table and opens its inbox.
func (p *Pipeline) RegisterListener(l Listener) error {
	return p.Register(Endpoint{Listener: l})
}

// RegisterSender adds s to the sender table.
func (p *Pipeline) RegisterSender(s Sender) error {
	return p.Register(Endpoint{Sender: s})
}

// Register adds every half of ep in one step. Nothing is registered when any
// half conflicts with an existing entry.
func (p *Pipeline) Register(ep Endpoint) error {
	addr, err := endpointAddress(ep)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errspkg.ErrPipelineClosed
	}
	if ep.Listener != nil {
		if _, ok := p.listeners[addr]; ok {
			return errspkg.NewAddressError("register listener", addr.Name(), errspkg.ErrDuplicateAddress)
		}
	}
	if ep.Sender != nil {
		if _, ok := p.senders[addr]; ok {
			return errspkg.NewAddressError("register sender", addr.Name(), errspkg.ErrDuplicateAddress)
		}
	}

	if ep.Listener != nil {
		if err := p.dispatcher.Open(addr.Name(), p.handleDelivery); err != nil {
			return errspkg.NewAddressError("register listener", addr.Name(), err)
		}
		p.listeners[addr] = &listenerEntry{
			listener: ep.Listener,
			stats:    newListenerStats(addr.Name(), p.resources),
		}
		p.Logger.Info("Listener registered", loggingpkg.LogFields{"address": addr.Name()})
	}
	if ep.Sender != nil {
		p.senders[addr] = ep.Sender
		p.Logger.Info("Sender registered", loggingpkg.LogFields{"address": addr.Name()})
	}
	p.updateRegistrationGaugesLocked()
	return nil
}

// UnregisterListener removes l and closes its inbox.
func (p *Pipeline) UnregisterListener(l Listener) error {
	return p.Unregister(Endpoint{Listener: l})
}

// UnregisterSender removes s from the sender table.
func (p *Pipeline) UnregisterSender(s Sender) error {
	return p.Unregister(Endpoint{Sender: s})
}

// Unregister removes every half of ep. Nothing is removed when any half is
// not registered.
func (p *Pipeline) Unregister(ep Endpoint) error {
	addr, err := endpointAddress(ep)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if ep.Listener != nil {
		if _, ok := p.listeners[addr]; !ok {
			return errspkg.NewAddressError("unregister listener", addr.Name(), errspkg.ErrUnknownAddress)
		}
	}
	if ep.Sender != nil {
		if _, ok := p.senders[addr]; !ok {
			return errspkg.NewAddressError("unregister sender", addr.Name(), errspkg.ErrUnknownAddress)
		}
	}

	if ep.Listener != nil {
		delete(p.listeners, addr)
		if !p.closed {
			if err := p.dispatcher.CloseInbox(addr.Name()); err != nil && !errors.Is(err, dispatchers.ErrUnknownInbox) {
				p.Logger.Error("Failed to close inbox", err, loggingpkg.LogFields{"address": addr.Name()})
			}
		}
		p.Logger.Info("Listener unregistered", loggingpkg.LogFields{"address": addr.Name()})
	}
	if ep.Sender != nil {
		delete(p.senders, addr)
		p.Logger.Info("Sender unregistered", loggingpkg.LogFields{"address": addr.Name()})
	}
	p.updateRegistrationGaugesLocked()
	return nil
}

func endpointAddress(ep Endpoint) (envelope.Address, error) {
	switch {
	case ep.Listener == nil && ep.Sender == nil:
		return envelope.Nobody, errspkg.ErrListenerRequired
	case ep.Listener != nil && ep.Sender != nil && ep.Listener.Address() != ep.Sender.Address():
		return envelope.Nobody, errspkg.ErrAddressMismatch
	}

	var addr envelope.Address
	if ep.Listener != nil {
		addr = ep.Listener.Address()
	} else {
		addr = ep.Sender.Address()
	}
	if addr.IsNobody() {
		return envelope.Nobody, errspkg.ErrEmptyAddress
	}
	return addr, nil
}

func (p *Pipeline) updateRegistrationGaugesLocked() {
	p.metrics.SetRegistered("listeners", len(p.listeners))
	p.metrics.SetRegistered("senders", len(p.senders))
}

// Send stamps a fresh id on body and hands the envelope to the recipient's
// inbox. It returns once the dispatcher accepted the delivery; failures
// inside the recipient are never reported back here.
func (p *Pipeline) Send(ctx context.Context, sender, recipient envelope.Address, body envelope.Body, inReplyTo envelope.MessageID) (envelope.MessageID, error) {
	if err := p.validateSend(sender, recipient, body); err != nil {
		return envelope.NoMessageID, err
	}

	p.mu.RLock()
	closed := p.closed
	_, senderOK := p.senders[sender]
	_, recipientOK := p.listeners[recipient]
	p.mu.RUnlock()

	switch {
	case closed:
		return envelope.NoMessageID, errspkg.ErrPipelineClosed
	case !senderOK:
		return envelope.NoMessageID, errspkg.NewAddressError("send", sender.Name(), errspkg.ErrUnknownAddress)
	case !recipientOK:
		return envelope.NoMessageID, errspkg.NewAddressError("send", recipient.Name(), errspkg.ErrUnknownAddress)
	}

	header, err := envelope.NewHeader(envelope.MessageID(p.ids.NewID()), sender, recipient, inReplyTo)
	if err != nil {
		return envelope.NoMessageID, err
	}
	env := envelope.New(header, body.Copy())

	msg, err := p.newDeliveryMessage(env)
	if err != nil {
		return envelope.NoMessageID, err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	// The delivery outlives the sender's call, so only values are inherited.
	dctx := withEnvelope(context.WithoutCancel(ctx), env)

	if err := p.dispatcher.Dispatch(dctx, recipient.Name(), msg); err != nil {
		switch {
		case errors.Is(err, dispatchers.ErrUnknownInbox):
			return envelope.NoMessageID, errspkg.NewAddressError("send", recipient.Name(), errspkg.ErrUnknownAddress)
		case errors.Is(err, dispatchers.ErrDispatcherClosed):
			return envelope.NoMessageID, errspkg.ErrPipelineClosed
		default:
			return envelope.NoMessageID, fmt.Errorf("dispatch %s to %q: %w", header.ID(), recipient.Name(), err)
		}
	}

	p.metrics.RecordSent(env.Kind())
	p.Logger.Trace("Message sent", envelopeFields(env))
	return header.ID(), nil
}

func (p *Pipeline) validateSend(sender, recipient envelope.Address, body envelope.Body) error {
	switch {
	case sender.IsNobody():
		return errspkg.ErrSenderRequired
	case recipient.IsNobody():
		return errspkg.ErrRecipientRequired
	case sender == recipient:
		return errspkg.ErrSelfAddressed
	case bodies.IsNil(body):
		return errspkg.ErrBodyRequired
	}
	return nil
}

// newDeliveryMessage wraps env in a watermill message. Dispatchers that cannot
// carry the context get the body encoded in the payload; a body type the
// catalog has not seen yet is registered with its default codec first.
func (p *Pipeline) newDeliveryMessage(env envelope.Envelope) (*message.Message, error) {
	md := metadatapkg.FromEnvelope(env, p.now())

	var payload []byte
	if p.caps.RequiresEncoding {
		if err := p.catalog.Register(env.Body); err != nil {
			return nil, err
		}
		data, contentType, err := p.catalog.Encode(env.Body)
		if err != nil {
			return nil, err
		}
		payload = data
		md = md.With(metadatapkg.KeyContentType, contentType)
	}

	msg := message.NewMessage(env.Header.ID().String(), payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	return msg, nil
}

// Close rejects further sends and registrations, then waits for running
// deliveries. Registrations stay in place so Listeners still reports them.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.dispatcher.Close()
	p.Logger.Info("Pipeline closed", nil)
	return err
}

// Addresses returns every registered address, sorted.
func (p *Pipeline) Addresses() []envelope.Address {
	p.mu.RLock()
	seen := make(map[envelope.Address]struct{}, len(p.listeners)+len(p.senders))
	for addr := range p.listeners {
		seen[addr] = struct{}{}
	}
	for addr := range p.senders {
		seen[addr] = struct{}{}
	}
	p.mu.RUnlock()

	out := make([]envelope.Address, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	slices.SortFunc(out, func(a, b envelope.Address) int {
		switch {
		case a.Name() < b.Name():
			return -1
		case a.Name() > b.Name():
			return 1
		}
		return 0
	})
	return out
}

// Listeners describes every registered address with its delivery statistics.
func (p *Pipeline) Listeners() []ListenerInfo {
	addrs := p.Addresses()

	p.mu.RLock()
	defer p.mu.RUnlock()

	infos := make([]ListenerInfo, 0, len(addrs))
	for _, addr := range addrs {
		info := ListenerInfo{Address: addr.Name()}
		if entry, ok := p.listeners[addr]; ok {
			info.Listener = true
			info.Stats = entry.stats
		}
		_, info.Sender = p.senders[addr]
		if info.Listener || info.Sender {
			infos = append(infos, info)
		}
	}
	return infos
}

// InFlight reports running deliveries when the dispatcher tracks them.
func (p *Pipeline) InFlight() (int64, bool) {
	if in, ok := p.dispatcher.(dispatchers.InboxIntrospector); ok {
		return in.InFlight(), true
	}
	return 0, false
}

func (p *Pipeline) listenerEntry(addr envelope.Address) (*listenerEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.listeners[addr]
	return entry, ok
}

func envelopeFields(env envelope.Envelope) loggingpkg.LogFields {
	fields := loggingpkg.LogFields{
		"message_id": env.Header.ID().String(),
		"sender":     env.Header.Sender().Name(),
		"recipient":  env.Header.Recipient().Name(),
		"body_kind":  string(env.Kind()),
	}
	if env.IsReply() {
		fields["in_reply_to"] = env.Header.InReplyTo().String()
	}
	return fields
}
