package runtime

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	idspkg "github.com/drblury/safetynet/internal/runtime/ids"
	loggingpkg "github.com/drblury/safetynet/internal/runtime/logging"
	metadatapkg "github.com/drblury/safetynet/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Service router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard middleware chain used by NewService.
// There is no broker-level retry middleware: retries travel in the payload.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		PoisonQueueMiddleware(nil),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware adds Watermill's Prometheus router metrics.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(
				s.registerer,
				"safetynet",
				s.Conf.Name,
			)
			metricsBuilder.AddPrometheusRouterMetrics(s.router)

			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return correlationIDMiddleware, nil
		},
	}
}

// LogMessagesMiddleware logs the payload and metadata of handled messages at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errspkg.ErrLoggerRequired
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps router handling in an OpenTelemetry span. The
// decorator span becomes its child.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.tracerMiddleware(), nil
		},
	}
}

// PoisonQueueMiddleware publishes messages whose handler error matches filter
// to ServiceConfig.PoisonTopic. The default filter matches decode errors. It
// is skipped when no poison topic is configured.
func PoisonQueueMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison_queue",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if s.Conf.PoisonTopic == "" {
				return nil, nil
			}
			f := filter
			if f == nil {
				f = IsDecodeError
			}
			return middleware.PoisonQueueWithFilter(s.publisher, s.Conf.PoisonTopic, f)
		},
	}
}

// RecovererMiddleware converts panics outside the decorator into handler errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// IsDecodeError reports whether err carries a *errors.DecodeError.
func IsDecodeError(err error) bool {
	var decodeErr *errspkg.DecodeError
	return errors.As(err, &decodeErr)
}

// RegisterMiddleware builds cfg and adds it to the router. A Builder that
// returns a nil middleware registers nothing.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("safetynet: router is not initialised")
	}

	mw := cfg.Middleware
	if mw == nil {
		if cfg.Builder == nil {
			return errors.New("safetynet: middleware registration requires Middleware or Builder")
		}
		built, err := cfg.Builder(s)
		if err != nil {
			return err
		}
		if built == nil {
			return nil
		}
		mw = built
	}

	s.router.AddMiddleware(mw)
	return nil
}

func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if _, ok := msg.Metadata[metadatapkg.KeyCorrelationID]; !ok {
			msg.Metadata[metadatapkg.KeyCorrelationID] = idspkg.NewMessageID()
		}
		return h(msg)
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			md := metadatapkg.FromWatermill(msg.Metadata)
			fields := loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
			}
			if attempts := md.Attempts(); attempts > 0 {
				fields["attempts"] = attempts
				fields["origin_topic"] = md[metadatapkg.KeyOriginTopic]
			}
			logger.Debug("Processing message", fields)
			return h(msg)
		}
	}
}

func (s *Service) tracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			md := metadatapkg.FromWatermill(msg.Metadata)
			ctx, span := s.catcher.tracer.Start(msg.Context(), "ProcessMessage", trace.WithAttributes(
				attribute.String("message.uuid", msg.UUID),
				attribute.String("message.correlation_id", md[metadatapkg.KeyCorrelationID]),
				attribute.Int("safetynet.redelivery_attempt", md.Attempts()),
			))
			defer span.End()

			msg.SetContext(ctx)
			return h(msg)
		}
	}
}
