package runtime

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/safetynet/internal/runtime/config"
	loggingpkg "github.com/drblury/safetynet/internal/runtime/logging"
	"github.com/drblury/safetynet/internal/runtime/overflow"
	transportpkg "github.com/drblury/safetynet/internal/runtime/transport"
)

// TracerName is the instrumentation name used for spans when no tracer is
// supplied.
const TracerName = "github.com/drblury/safetynet"

// Dependencies holds the optional collaborators of a Catcher. Leave fields nil
// to use the defaults.
type Dependencies struct {
	TransportFactory transportpkg.Factory // Defaults to the transport registry.
	Logger           loggingpkg.ServiceLogger
	Metrics          *RetryMetrics // nil disables retry metrics.
	Tracer           trace.Tracer
	Hooks            RetryHooks

	// Eager builds the transport client during Build instead of on first use.
	Eager bool
}

// Setup collects credentials and configuration during start-up. It is safe
// for concurrent use, but is meant to be filled once and turned into a
// Catcher with Build.
type Setup struct {
	mu    sync.Mutex
	creds configpkg.Credentials
	conf  configpkg.Config
}

// NewSetup returns a Setup holding the default configuration.
func NewSetup() *Setup {
	return &Setup{conf: configpkg.Default()}
}

// Authenticate stores the credentials handed to the transport factory. No
// validation happens here.
func (s *Setup) Authenticate(creds configpkg.Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
}

// Configure merges opts into the current configuration. An unknown fail
// behaviour is rejected and leaves the configuration unchanged.
func (s *Setup) Configure(opts configpkg.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conf, err := s.conf.Apply(opts)
	if err != nil {
		return err
	}
	s.conf = conf
	return nil
}

// Config returns a copy of the current configuration.
func (s *Setup) Config() configpkg.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conf
}

// Build validates the configuration and freezes it, together with the
// credentials, into a Catcher. Later changes to s do not affect it.
func (s *Setup) Build(ctx context.Context, deps Dependencies) (*Catcher, error) {
	s.mu.Lock()
	conf := s.conf
	creds := s.creds
	s.mu.Unlock()

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	if deps.Metrics != nil {
		if err := deps.Metrics.Register(); err != nil {
			return nil, err
		}
	}

	c := &Catcher{
		conf:     conf,
		creds:    creds,
		policy:   overflow.NewPolicy(conf),
		factory:  factory,
		logger:   logger.With(loggingpkg.LogFields{"component": "safetynet"}),
		wmLogger: loggingpkg.NewWatermillAdapter(logger),
		metrics:  deps.Metrics,
		tracer:   tracer,
		hooks:    deps.Hooks,
	}

	c.logger.Info("Built retry catcher", loggingpkg.LogFields{
		"config":        conf.String(),
		"pubsub_system": creds.PubSubSystem,
	})

	if deps.Eager {
		if _, err := c.Client(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// NewCatcher is a shortcut for a Setup with the given credentials and options.
func NewCatcher(ctx context.Context, creds configpkg.Credentials, opts configpkg.Options, deps Dependencies) (*Catcher, error) {
	s := NewSetup()
	s.Authenticate(creds)
	if err := s.Configure(opts); err != nil {
		return nil, err
	}
	return s.Build(ctx, deps)
}
