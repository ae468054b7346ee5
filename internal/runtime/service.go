package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/safetynet/internal/runtime/envelope"
	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	loggingpkg "github.com/drblury/safetynet/internal/runtime/logging"
	transportpkg "github.com/drblury/safetynet/internal/runtime/transport"
)

// ResourcePrefix is prepended to the subscribed topic to form Event.Resource.
const ResourcePrefix = "topics/"

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceConfig controls the router host.
type ServiceConfig struct {
	// Name labels router metrics. Defaults to "service".
	Name string
	// PoisonTopic receives messages that cannot be decoded. When empty they
	// are logged and acknowledged.
	PoisonTopic string
	// MetricsEnabled adds Watermill's Prometheus router metrics.
	MetricsEnabled bool
	// CloseTimeout bounds how long Close waits for running handlers.
	CloseTimeout time.Duration
	// StatusAddr, when set, serves StatusHandler while the service runs.
	StatusAddr string
	// StatusCORSAllowedOrigins lists origins allowed to call the status API.
	StatusCORSAllowedOrigins []string
}

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	DisableSignalsHandler     bool
	Registerer                prometheus.Registerer // Defaults to prometheus.DefaultRegisterer.
}

// Service hosts a Watermill router that feeds broker deliveries into
// handlers wrapped by a Catcher.
type Service struct {
	Conf   ServiceConfig
	Logger loggingpkg.ServiceLogger

	catcher    *Catcher
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	registerer prometheus.Registerer

	topics   map[string]string
	topicsMu sync.RWMutex
}

// NewService builds a router on the catcher's transport. The transport
// client must expose a subscriber.
func NewService(ctx context.Context, conf ServiceConfig, catcher *Catcher, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if catcher == nil {
		return nil, errspkg.ErrCatcherRequired
	}
	if log == nil {
		log = catcher.Logger()
	}
	if conf.Name == "" {
		conf.Name = "service"
	}

	client, err := catcher.Client(ctx)
	if err != nil {
		return nil, err
	}
	subscribable, ok := client.(transportpkg.Subscribable)
	if !ok || subscribable.Subscriber() == nil {
		return nil, errspkg.ErrSubscriberRequired
	}

	log.Info("Creating event service", loggingpkg.LogFields{
		"name":         conf.Name,
		"poison_topic": conf.PoisonTopic,
		"config":       catcher.Config().String(),
	})

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: conf.CloseTimeout}, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	s := &Service{
		Conf:       conf,
		Logger:     log,
		catcher:    catcher,
		publisher:  subscribable.Publisher(),
		subscriber: subscribable.Subscriber(),
		router:     router,
		registerer: registerer,
		topics:     make(map[string]string),
	}
	if !deps.DisableSignalsHandler {
		s.router.AddPlugin(plugin.SignalsHandler)
	}

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

// Start runs the router until ctx is cancelled or Close is called.
func (s *Service) Start(ctx context.Context) error {
	s.startStatusServer(ctx)
	return routerRun(s.router, ctx)
}

// Running is closed once the router has started all handlers.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Close stops the router. The catcher and its transport stay open.
func (s *Service) Close() error {
	return s.router.Close()
}

// Catcher returns the catcher whose transport the service consumes.
func (s *Service) Catcher() *Catcher {
	return s.catcher
}

// Topics returns handler name to topic for every subscription.
func (s *Service) Topics() map[string]string {
	s.topicsMu.RLock()
	defer s.topicsMu.RUnlock()
	out := make(map[string]string, len(s.topics))
	for k, v := range s.topics {
		out[k] = v
	}
	return out
}

// Subscription describes one topic consumer.
type Subscription[R any] struct {
	// Name identifies the router handler. Defaults to the topic.
	Name    string
	Topic   string
	Handler Handler[R]
	// OnResult receives the handler result after a successful invocation. An
	// error from it nacks the message.
	OnResult func(ctx context.Context, result R) error
}

// Subscribe wraps sub.Handler with the service catcher and consumes
// sub.Topic with it. Each delivery becomes an Event whose resource is
// "topics/<topic>".
//
// Success, a completed redelivery and an exhausted payload all ack the
// message: the next attempt already travels in the republished payload or
// the message is terminal. Undecodable messages go to the poison topic when
// one is configured and are acked otherwise. Every other error nacks.
func Subscribe[R any](s *Service, sub Subscription[R]) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if sub.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if sub.Topic == "" {
		return errspkg.ErrTopicRequired
	}
	name := sub.Name
	if name == "" {
		name = sub.Topic
	}

	s.topicsMu.Lock()
	if _, exists := s.topics[name]; exists {
		s.topicsMu.Unlock()
		return fmt.Errorf("safetynet: handler %q already registered", name)
	}
	s.topics[name] = sub.Topic
	s.topicsMu.Unlock()

	wrapped := Wrap(s.catcher, sub.Handler)
	resource := ResourcePrefix + sub.Topic
	logger := s.Logger.With(loggingpkg.LogFields{"handler": name, "topic": sub.Topic})

	s.router.AddNoPublisherHandler(name, sub.Topic, s.subscriber, func(msg *message.Message) error {
		env, err := envelope.ParseEnvelope(msg.Payload)
		if err != nil {
			return s.settle(logger, msg, err)
		}
		ctx := msg.Context()
		result, err := wrapped(ctx, envelope.Event{Data: env, Resource: resource})
		if err == nil && sub.OnResult != nil {
			err = sub.OnResult(ctx, result)
		}
		return s.settle(logger, msg, err)
	})
	return nil
}

// settle maps an invocation outcome onto ack (nil) or nack (error).
func (s *Service) settle(logger loggingpkg.ServiceLogger, msg *message.Message, err error) error {
	if err == nil {
		return nil
	}
	fields := loggingpkg.LogFields{"message_uuid": msg.UUID}

	var redelivered *errspkg.RedeliveredError
	var tooMany *errspkg.TooManyRetriesError
	switch {
	case errors.As(err, &redelivered):
		logger.Debug("Acknowledging redelivered message", fields.With("attempt", redelivered.Attempt))
		return nil
	case errors.As(err, &tooMany):
		logger.Debug("Acknowledging exhausted message", fields.With("error_topic", tooMany.Topic))
		return nil
	case IsDecodeError(err):
		if s.Conf.PoisonTopic != "" {
			return err
		}
		logger.Error("Dropping undecodable message", err, fields)
		return nil
	default:
		return err
	}
}
