package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
)

func TestPublishRequiresClientAndTopic(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "runs", map[string]string{})
	require.EqualError(t, err, "pubsub publisher is not configured")

	_, err = New(context.Background(), "")
	require.Error(t, err)
}

func TestNewMessageInjectsContext(t *testing.T) {
	t.Parallel()

	member, err := baggage.NewMember("run_id", "abc")
	require.NoError(t, err)
	bag, err := baggage.New(member)
	require.NoError(t, err)
	ctx := baggage.ContextWithBaggage(context.Background(), bag)

	p := &Publisher{propagator: propagation.Baggage{}}
	msg, err := p.newMessage(ctx, map[string]int{"created": 2})
	require.NoError(t, err)

	var decoded map[string]int
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, 2, decoded["created"])
	require.Equal(t, "application/json", msg.Attributes["content_type"])
	require.Equal(t, "run_id=abc", msg.Attributes["baggage"])
}

func TestNewMessageRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{propagator: propagation.TraceContext{}}).newMessage(context.Background(), make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestCarrierKeys(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
