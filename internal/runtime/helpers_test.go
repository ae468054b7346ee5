package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	configpkg "github.com/drblury/safetynet/internal/runtime/config"
	"github.com/drblury/safetynet/internal/runtime/envelope"
	transportpkg "github.com/drblury/safetynet/internal/runtime/transport"
	brokers "github.com/drblury/safetynet/transport"
	"github.com/drblury/safetynet/transport/transporttest"
)

// fakeBroker counts client builds and records every publish.
type fakeBroker struct {
	pub    *transporttest.Publisher
	sub    *transporttest.Subscriber
	builds atomic.Int32
	err    error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{pub: &transporttest.Publisher{}}
}

func (f *fakeBroker) factory() transportpkg.Factory {
	return transportpkg.FactoryFunc(func(ctx context.Context, creds *configpkg.Credentials, logger watermill.LoggerAdapter) (transportpkg.Client, error) {
		f.builds.Add(1)
		if f.err != nil {
			return nil, f.err
		}
		tr := brokers.Transport{Publisher: f.pub}
		if f.sub != nil {
			tr.Subscriber = f.sub
		}
		return transportpkg.NewClient(tr, brokers.ChannelCapabilities)
	})
}

type recordingTracer struct {
	noop.Tracer
	mu    sync.Mutex
	names []string
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	return r.Tracer.Start(ctx, name, opts...)
}

func (r *recordingTracer) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func newTestCatcher(t *testing.T, broker *fakeBroker, opts configpkg.Options, deps Dependencies) *Catcher {
	t.Helper()
	setup := NewSetup()
	require.NoError(t, setup.Configure(opts))
	if deps.TransportFactory == nil {
		deps.TransportFactory = broker.factory()
	}
	catcher, err := setup.Build(context.Background(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = catcher.Close() })
	return catcher
}

func rawEvent(body map[string]any, resource string) envelope.Event {
	return envelope.Event{Data: envelope.Raw(body), Resource: resource}
}
