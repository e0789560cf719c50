package kernelbus

import (
	"context"

	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/kernelbus/internal/runtime"
	"github.com/drblury/kernelbus/internal/runtime/bodies"
	configpkg "github.com/drblury/kernelbus/internal/runtime/config"
	"github.com/drblury/kernelbus/internal/runtime/envelope"
	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
	idspkg "github.com/drblury/kernelbus/internal/runtime/ids"
	jsoncodec "github.com/drblury/kernelbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/kernelbus/internal/runtime/logging"
	metadatapkg "github.com/drblury/kernelbus/internal/runtime/metadata"
	transportpkg "github.com/drblury/kernelbus/internal/runtime/transport"
	dispatchers "github.com/drblury/kernelbus/transport"
)

type (
	Address     = envelope.Address
	Addressable = envelope.Addressable
	MessageID   = envelope.MessageID
	BodyKind    = envelope.BodyKind
	Body        = envelope.Body
	Header      = envelope.Header
	Envelope    = envelope.Envelope

	Catalog   = bodies.Catalog
	BodyCodec = bodies.Codec
	ProtoBody = bodies.ProtoBody

	Config               = configpkg.Config
	Pipeline             = runtimepkg.Pipeline
	PipelineDependencies = runtimepkg.PipelineDependencies
	PipelineMetrics      = runtimepkg.PipelineMetrics
	Listener             = runtimepkg.Listener
	Sender               = runtimepkg.Sender
	Endpoint             = runtimepkg.Endpoint
	ListenerFunc         = runtimepkg.ListenerFunc

	Assistant       = runtimepkg.Assistant
	AssistantOption = runtimepkg.AssistantOption
	Handler         = runtimepkg.Handler
	ReplyFuture     = runtimepkg.ReplyFuture
	Service         = runtimepkg.Service
	Request[T any]  = runtimepkg.Request[T]

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	// Delivery lifecycle hooks
	DeliveryContext = runtimepkg.DeliveryContext
	DeliveryHooks   = runtimepkg.DeliveryHooks

	// Introspection
	ListenerInfo    = runtimepkg.ListenerInfo
	ListenerStats   = runtimepkg.ListenerStats
	StatsSnapshot   = runtimepkg.StatsSnapshot
	ErrorBreakdown  = runtimepkg.ErrorBreakdown
	ErrorCategory   = runtimepkg.ErrorCategory
	ErrorClassifier = runtimepkg.ErrorClassifier

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	IDGenerator = idspkg.Generator

	AddressError          = errspkg.AddressError
	DeliveryError         = errspkg.DeliveryError
	ConfigValidationError = errspkg.ConfigValidationError

	// Dispatchers
	Dispatcher        = dispatchers.Dispatcher
	DispatcherFactory = transportpkg.Factory
	Capabilities      = dispatchers.Capabilities
)

// Nobody is the empty address. It is never a valid sender or recipient.
var Nobody = envelope.Nobody

const NoMessageID = envelope.NoMessageID

var (
	NewAddress  = envelope.NewAddress
	MustAddress = envelope.MustAddress
	NewHeader   = envelope.NewHeader
	MustHeader  = envelope.MustHeader
	NewEnvelope = envelope.New

	NewCatalog    = bodies.NewCatalog
	NewProtoBody  = bodies.NewProtoBody
	ProtoKind     = bodies.ProtoKind
	IsNilBody     = bodies.IsNil
	DefaultConfig = configpkg.Default
	LoadConfig    = configpkg.Load

	ValidateConfig = configpkg.ValidateConfig

	NewPipeline        = runtimepkg.NewPipeline
	MustNewPipeline    = runtimepkg.MustNewPipeline
	NewPipelineMetrics = runtimepkg.NewPipelineMetrics
	NewListenerFunc    = runtimepkg.NewListenerFunc
	SenderAt           = runtimepkg.SenderAt

	NewAssistant        = runtimepkg.NewAssistant
	NewService          = runtimepkg.NewService
	WithSettledReplyTTL = runtimepkg.WithSettledReplyTTL
	WithClock           = runtimepkg.WithClock

	EnvelopeFromContext = runtimepkg.EnvelopeFromContext

	DefaultMiddlewares        = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware   = runtimepkg.CorrelationIDMiddleware
	LogDeliveriesMiddleware   = runtimepkg.LogDeliveriesMiddleware
	TracerMiddleware          = runtimepkg.TracerMiddleware
	MetricsMiddleware         = runtimepkg.MetricsMiddleware
	TimeoutMiddleware         = runtimepkg.TimeoutMiddleware
	RetryMiddleware           = runtimepkg.RetryMiddleware
	ConfiguredRetryMiddleware = runtimepkg.ConfiguredRetryMiddleware
	RecovererMiddleware       = runtimepkg.RecovererMiddleware
	HooksMiddleware           = runtimepkg.HooksMiddleware
	StatsMiddleware           = runtimepkg.StatsMiddleware
	DeliveryHooksMiddleware   = runtimepkg.DeliveryHooksMiddleware
	LoggingHooks              = runtimepkg.LoggingHooks
	MetricsHooks              = runtimepkg.MetricsHooks
	AlertingHooks             = runtimepkg.AlertingHooks
	DefaultDispatcherFactory  = transportpkg.DefaultFactory
	RegisterDispatcher        = dispatchers.Register
	GetDispatcherCapabilities = dispatchers.GetCapabilities
	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger       = loggingpkg.NewZapServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewDiscardServiceLogger   = loggingpkg.NewDiscardServiceLogger
	NewULIDGenerator          = idspkg.NewULIDGenerator
	NewSequenceGenerator      = idspkg.NewSequenceGenerator
	IDGeneratorByName         = idspkg.New
	CreateULID                = idspkg.CreateULID
	NewMetadata               = metadatapkg.New
	Retryable                 = errspkg.Retryable
	IsRetryable               = errspkg.IsRetryable
	NewAddressError           = errspkg.NewAddressError
	NewConfigValidationError  = errspkg.NewConfigValidationError

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrInvalidArgument   = errspkg.ErrInvalidArgument
	ErrSenderRequired    = errspkg.ErrSenderRequired
	ErrRecipientRequired = errspkg.ErrRecipientRequired
	ErrBodyRequired      = errspkg.ErrBodyRequired
	ErrInvalidMessageID  = errspkg.ErrInvalidMessageID
	ErrEmptyAddress      = errspkg.ErrEmptyAddress
	ErrInvalidBodyKind   = errspkg.ErrInvalidBodyKind
	ErrUnknownBodyKind   = errspkg.ErrUnknownBodyKind
	ErrDuplicateBodyKind = errspkg.ErrDuplicateBodyKind
	ErrHandlerRequired   = errspkg.ErrHandlerRequired
	ErrListenerRequired  = errspkg.ErrListenerRequired
	ErrSelfAddressed     = errspkg.ErrSelfAddressed
	ErrAddressMismatch   = errspkg.ErrAddressMismatch
	ErrDuplicateAddress  = errspkg.ErrDuplicateAddress
	ErrUnknownAddress    = errspkg.ErrUnknownAddress
	ErrMissingPipeline   = errspkg.ErrMissingPipeline
	ErrAlreadyBound      = errspkg.ErrAlreadyBound
	ErrPipelineClosed    = errspkg.ErrPipelineClosed
	ErrUnexpectedReply   = errspkg.ErrUnexpectedReply
	ErrReplyCancelled    = errspkg.ErrReplyCancelled
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
)

// Metadata keys stamped on every delivery.
const (
	MetadataKeyMessageID     = metadatapkg.KeyMessageID
	MetadataKeySender        = metadatapkg.KeySender
	MetadataKeyRecipient     = metadatapkg.KeyRecipient
	MetadataKeyInReplyTo     = metadatapkg.KeyInReplyTo
	MetadataKeyBodyKind      = metadatapkg.KeyBodyKind
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyEnqueuedAt    = metadatapkg.KeyEnqueuedAt
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTimeout    = runtimepkg.ErrorCategoryTimeout
	ErrorCategoryPanic      = runtimepkg.ErrorCategoryPanic
	ErrorCategoryRouting    = runtimepkg.ErrorCategoryRouting
	ErrorCategoryListener   = runtimepkg.ErrorCategoryListener
)

// HandleFunc registers a typed request handler on the assistant.
func HandleFunc[T Body](a *Assistant, fn func(ctx context.Context, req Request[T]) error) error {
	return runtimepkg.HandleFunc(a, fn)
}

// HandleProto registers a handler for a protobuf message carried as a ProtoBody.
func HandleProto[M proto.Message](a *Assistant, fn func(ctx context.Context, req Request[M]) error) error {
	return runtimepkg.HandleProto(a, fn)
}

// AwaitReply waits for the future and asserts the reply body type.
func AwaitReply[T Body](ctx context.Context, f *ReplyFuture) (T, error) {
	return runtimepkg.AwaitReply[T](ctx, f)
}
