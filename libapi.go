package safetynet

import (
	"context"

	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/safetynet/internal/runtime"
	configpkg "github.com/drblury/safetynet/internal/runtime/config"
	envelopepkg "github.com/drblury/safetynet/internal/runtime/envelope"
	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	handlerpkg "github.com/drblury/safetynet/internal/runtime/handlers"
	idspkg "github.com/drblury/safetynet/internal/runtime/ids"
	jsoncodec "github.com/drblury/safetynet/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/safetynet/internal/runtime/logging"
	metadatapkg "github.com/drblury/safetynet/internal/runtime/metadata"
	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
	transportpkg "github.com/drblury/safetynet/internal/runtime/transport"
	brokers "github.com/drblury/safetynet/transport"
)

type (
	Config       = configpkg.Config
	Options      = configpkg.Options
	Credentials  = configpkg.Credentials
	FailBehavior = configpkg.FailBehavior

	Setup        = runtimepkg.Setup
	Dependencies = runtimepkg.Dependencies
	Catcher      = runtimepkg.Catcher

	Handler[R any]      = runtimepkg.Handler[R]
	EventHandler[R any] = runtimepkg.EventHandler[R]

	Payload        = payloadpkg.Payload
	Event          = envelopepkg.Event
	Envelope       = envelopepkg.Envelope
	RawPayload     = envelopepkg.RawPayload
	WrappedPayload = envelopepkg.WrappedPayload

	Service                = runtimepkg.Service
	ServiceConfig          = runtimepkg.ServiceConfig
	ServiceDependencies    = runtimepkg.ServiceDependencies
	Subscription[R any]    = runtimepkg.Subscription[R]
	SubscriptionInfo       = runtimepkg.SubscriptionInfo
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	MessageContext                   = handlerpkg.MessageContext
	HandlerOption                    = handlerpkg.Option
	JSONMessageHandler[T any, R any] = handlerpkg.JSONMessageHandler[T, R]

	ProtoMessageHandler[T proto.Message, R any] = handlerpkg.ProtoMessageHandler[T, R]

	RetryContext         = runtimepkg.RetryContext
	RetryHooks           = runtimepkg.RetryHooks
	RetryMetrics         = runtimepkg.RetryMetrics
	TopicRetryMetrics    = runtimepkg.TopicRetryMetrics
	RetryMetricsSnapshot = runtimepkg.RetryMetricsSnapshot

	Metadata      = metadatapkg.Metadata
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	TransportFactory      = transportpkg.Factory
	TransportFactoryFunc  = transportpkg.FactoryFunc
	TransportClient       = transportpkg.Client
	TransportTopic        = transportpkg.Topic
	PublishOption         = transportpkg.PublishOption
	Transport             = brokers.Transport
	TransportBuilder      = brokers.Builder
	TransportConfig       = brokers.Config
	TransportRegistry     = brokers.Registry
	TransportCapabilities = brokers.Capabilities

	ConfigurationError  = errspkg.ConfigurationError
	DecodeError         = errspkg.DecodeError
	TooManyRetriesError = errspkg.TooManyRetriesError
	TransportError      = errspkg.TransportError
	RedeliveredError    = errspkg.RedeliveredError
	HandlerPanicError   = errspkg.HandlerPanicError
)

const (
	FailBehaviorError     = configpkg.FailBehaviorError
	FailBehaviorRepublish = configpkg.FailBehaviorRepublish
	DefaultMaxRetries     = configpkg.DefaultMaxRetries
	DefaultAttemptsKey    = payloadpkg.DefaultAttemptsKey

	MetadataAttempts      = metadatapkg.KeyAttempts
	MetadataOriginTopic   = metadatapkg.KeyOriginTopic
	MetadataDeadLetter    = metadatapkg.KeyDeadLetter
	MetadataError         = metadatapkg.KeyError
	MetadataCorrelationID = metadatapkg.KeyCorrelationID

	ResourcePrefix = runtimepkg.ResourcePrefix
	TracerName     = runtimepkg.TracerName
	SpanName       = runtimepkg.SpanName
)

var (
	NewSetup          = runtimepkg.NewSetup
	NewCatcher        = runtimepkg.NewCatcher
	DefaultConfig     = configpkg.Default
	ParseFailBehavior = configpkg.ParseFailBehavior

	NewService              = runtimepkg.NewService
	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware
	IsDecodeError           = runtimepkg.IsDecodeError

	NewRetryMetrics = runtimepkg.NewRetryMetrics
	AlertingHooks   = runtimepkg.AlertingHooks

	ParseEnvelope     = envelopepkg.ParseEnvelope
	EnvelopeFromMap   = envelopepkg.FromObject
	Raw               = envelopepkg.Raw
	Wrapped           = envelopepkg.Wrap
	Decode            = envelopepkg.Decode
	TopicFromResource = envelopepkg.TopicFromResource

	Attempts        = payloadpkg.Attempts
	WithAttemptsKey = handlerpkg.WithAttemptsKey

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopLogger              = loggingpkg.NewNopLogger

	NewTransportClient       = transportpkg.NewClient
	DefaultTransportFactory  = transportpkg.DefaultFactory
	RegistryTransportFactory = transportpkg.RegistryFactory
	WithMetadata             = transportpkg.WithMetadata
	DefaultTransportRegistry = brokers.DefaultRegistry
	NewTransportRegistry     = brokers.NewRegistry
	RegisterTransport        = brokers.Register
	BuildTransport           = brokers.Build
	GetCapabilities          = brokers.GetCapabilities

	NewMessageID = idspkg.NewMessageID
	Marshal      = jsoncodec.Marshal
	Unmarshal    = jsoncodec.Unmarshal

	ErrCatcherRequired    = errspkg.ErrCatcherRequired
	ErrServiceRequired    = errspkg.ErrServiceRequired
	ErrHandlerRequired    = errspkg.ErrHandlerRequired
	ErrTopicRequired      = errspkg.ErrTopicRequired
	ErrClientRequired     = errspkg.ErrClientRequired
	ErrSubscriberRequired = errspkg.ErrSubscriberRequired
	ErrTopicNotFound      = errspkg.ErrTopicNotFound
	ErrMessageTooLarge    = errspkg.ErrMessageTooLarge
	ErrNotAnObject        = errspkg.ErrNotAnObject
	ErrTooManyRetries     = errspkg.ErrTooManyRetries
	ErrUnknownTransport   = brokers.ErrUnknownTransport
)

// Ptr returns a pointer to v, for filling Options.
func Ptr[T any](v T) *T {
	return configpkg.Ptr(v)
}

// Wrap decorates handler with the catcher's retry policy.
func Wrap[R any](c *Catcher, handler Handler[R]) EventHandler[R] {
	return runtimepkg.Wrap(c, handler)
}

// Subscribe registers a wrapped handler on the service router.
func Subscribe[R any](s *Service, sub Subscription[R]) error {
	return runtimepkg.Subscribe(s, sub)
}

// JSONHandler adapts a typed JSON handler to a payload handler. Run through
// a Catcher, it reads and strips the catcher's attempts key unless
// WithAttemptsKey says otherwise.
func JSONHandler[T any, R any](handler JSONMessageHandler[T, R], opts ...HandlerOption) (Handler[R], error) {
	return handlerpkg.JSON(handler, opts...)
}

// ProtoHandler adapts a typed protobuf handler to a payload handler. The
// attempts key is resolved as in JSONHandler.
func ProtoHandler[T proto.Message, R any](handler ProtoMessageHandler[T, R], opts ...HandlerOption) (Handler[R], error) {
	return handlerpkg.Proto(handler, opts...)
}

// WrapJSON combines JSONHandler and Wrap, pinning the adapter to c's
// attempts key. Options in opts still override it.
func WrapJSON[T any, R any](c *Catcher, handler JSONMessageHandler[T, R], opts ...HandlerOption) (EventHandler[R], error) {
	if c == nil {
		return nil, ErrCatcherRequired
	}
	h, err := JSONHandler(handler, catcherOptions(c, opts)...)
	if err != nil {
		return nil, err
	}
	return Wrap(c, h), nil
}

// WrapProto combines ProtoHandler and Wrap like WrapJSON.
func WrapProto[T proto.Message, R any](c *Catcher, handler ProtoMessageHandler[T, R], opts ...HandlerOption) (EventHandler[R], error) {
	if c == nil {
		return nil, ErrCatcherRequired
	}
	h, err := ProtoHandler(handler, catcherOptions(c, opts)...)
	if err != nil {
		return nil, err
	}
	return Wrap(c, h), nil
}

func catcherOptions(c *Catcher, opts []HandlerOption) []HandlerOption {
	return append([]HandlerOption{WithAttemptsKey(c.Config().AttemptsKey)}, opts...)
}

// Catch runs a single event through handler with c's retry policy.
func Catch[R any](ctx context.Context, c *Catcher, handler Handler[R], ev Event) (R, error) {
	return Wrap(c, handler)(ctx, ev)
}
