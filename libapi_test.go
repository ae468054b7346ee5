package safetynet

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/drblury/safetynet/transport/transporttest"
)

func newRecordingCatcher(t *testing.T, opts Options) (*Catcher, *transporttest.Publisher) {
	t.Helper()
	pub := &transporttest.Publisher{}
	factory := TransportFactoryFunc(func(ctx context.Context, creds *Credentials, logger watermill.LoggerAdapter) (TransportClient, error) {
		return NewTransportClient(Transport{Publisher: pub}, TransportCapabilities{})
	})
	setup := NewSetup()
	setup.Authenticate(Credentials{PubSubSystem: "test"})
	if err := setup.Configure(opts); err != nil {
		t.Fatalf("configure: %v", err)
	}
	catcher, err := setup.Build(context.Background(), Dependencies{TransportFactory: factory})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = catcher.Close() })
	return catcher, pub
}

func rawOrderEvent(t *testing.T, body string) Event {
	t.Helper()
	env, err := ParseEnvelope([]byte(body))
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	return Event{Data: env, Resource: ResourcePrefix + "orders"}
}

func TestCatchRedeliversThroughExports(t *testing.T) {
	catcher, pub := newRecordingCatcher(t, Options{Retries: Ptr(1)})
	boom := errors.New("boom")

	_, err := Catch(context.Background(), catcher, func(ctx context.Context, p Payload, ev Event) (int, error) {
		return 0, boom
	}, rawOrderEvent(t, `{"id":"o-1"}`))

	var redelivered *RedeliveredError
	if !errors.As(err, &redelivered) {
		t.Fatalf("expected RedeliveredError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error to be wrapped, got %v", err)
	}
	if len(pub.Calls) != 1 || pub.Calls[0].Topic != "orders" {
		t.Fatalf("expected one redelivery to orders, got %v", pub.Topics())
	}
	if got := pub.Calls[0].Messages[0].Metadata.Get(MetadataAttempts); got != "1" {
		t.Fatalf("unexpected attempts metadata %q", got)
	}
}

func TestCatchExhaustedErrorBehavior(t *testing.T) {
	catcher, pub := newRecordingCatcher(t, Options{Retries: Ptr(0)})

	_, err := Catch(context.Background(), catcher, func(ctx context.Context, p Payload, ev Event) (int, error) {
		return 0, errors.New("boom")
	}, rawOrderEvent(t, `{"id":"o-1","_attempts":1}`))

	if !errors.Is(err, ErrTooManyRetries) {
		t.Fatalf("expected ErrTooManyRetries, got %v", err)
	}
	if len(pub.Calls) != 0 {
		t.Fatal("exhausted payload must not be redelivered")
	}
}

func TestWrapJSONExport(t *testing.T) {
	catcher, _ := newRecordingCatcher(t, Options{})
	type order struct {
		ID string `json:"id"`
	}

	handler, err := WrapJSON(catcher, func(ctx context.Context, o order, mc MessageContext) (string, error) {
		return o.ID + "@" + mc.Topic(), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := handler(context.Background(), rawOrderEvent(t, `{"id":"o-7"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "o-7@orders" {
		t.Fatalf("unexpected result %q", got)
	}
}

func TestTypedHandlersFollowCatcherAttemptsKey(t *testing.T) {
	catcher, _ := newRecordingCatcher(t, Options{AttemptsKey: Ptr("n")})
	type record struct {
		ID string `json:"id"`
		N  int    `json:"n"`
	}
	ev := rawOrderEvent(t, `{"id":"a","n":2}`)

	viaWrapJSON, err := WrapJSON(catcher, func(ctx context.Context, r record, mc MessageContext) (int, error) {
		if r.N != 0 {
			t.Fatalf("attempts counter leaked into the typed payload: %d", r.N)
		}
		return mc.Attempts, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, err := viaWrapJSON(context.Background(), ev); err != nil || got != 2 {
		t.Fatalf("WrapJSON: got %d, %v", got, err)
	}

	plain, err := JSONHandler(func(ctx context.Context, r record, mc MessageContext) (int, error) {
		return mc.Attempts, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, err := Wrap(catcher, plain)(context.Background(), ev); err != nil || got != 2 {
		t.Fatalf("JSONHandler under Wrap: got %d, %v", got, err)
	}

	viaWrapProto, err := WrapProto(catcher, func(ctx context.Context, msg *structpb.Struct, mc MessageContext) (int, error) {
		if _, ok := msg.Fields["n"]; ok {
			t.Fatal("attempts counter leaked into the proto message")
		}
		return mc.Attempts, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, err := viaWrapProto(context.Background(), ev); err != nil || got != 2 {
		t.Fatalf("WrapProto: got %d, %v", got, err)
	}
}

func TestWrapTypedRequiresCatcher(t *testing.T) {
	if _, err := WrapJSON(nil, func(ctx context.Context, r map[string]any, mc MessageContext) (int, error) {
		return 0, nil
	}); !errors.Is(err, ErrCatcherRequired) {
		t.Fatalf("expected ErrCatcherRequired, got %v", err)
	}
	if _, err := WrapProto(nil, func(ctx context.Context, msg *structpb.Struct, mc MessageContext) (int, error) {
		return 0, nil
	}); !errors.Is(err, ErrCatcherRequired) {
		t.Fatalf("expected ErrCatcherRequired, got %v", err)
	}
}

func TestHandlerExportsRequireHandler(t *testing.T) {
	if _, err := JSONHandler[*structpb.Struct, int](nil); !errors.Is(err, ErrHandlerRequired) {
		t.Fatalf("expected ErrHandlerRequired, got %v", err)
	}
	if _, err := ProtoHandler[*structpb.Struct, int](nil); !errors.Is(err, ErrHandlerRequired) {
		t.Fatalf("expected ErrHandlerRequired, got %v", err)
	}
}

func TestParseFailBehaviorExport(t *testing.T) {
	if _, err := ParseFailBehavior("Republish"); err == nil {
		t.Fatal("expected case-sensitive rejection")
	}
	behavior, err := ParseFailBehavior("republish")
	if err != nil || behavior != FailBehaviorRepublish {
		t.Fatalf("unexpected result %q, %v", behavior, err)
	}
}

func TestEncodingExportAliases(t *testing.T) {
	data, err := Marshal(map[string]any{"hello": "world"})
	if err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	var out map[string]string
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
	if out["hello"] != "world" {
		t.Fatalf("unexpected round trip %#v", out)
	}
}
