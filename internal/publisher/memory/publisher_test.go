package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webthumb/internal/publisher"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := publisher.WithAttributes(context.Background(), map[string]string{publisher.AttrOutcome: "OK"})
	id1, err := pub.Publish(ctx, "renders", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "renders", msgs[0].Topic)
	assert.JSONEq(t, `{"k":"v"}`, string(msgs[0].Data))
	assert.Equal(t, "OK", msgs[0].Attributes[publisher.AttrOutcome])
	assert.Equal(t, `"payload"`, string(msgs[1].Data))
	assert.Empty(t, msgs[1].Attributes)

	msgs[0].Topic = "modified"
	assert.Equal(t, "renders", pub.Messages()[0].Topic, "Messages() must return a copy")
}

func TestPublisherFailures(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "t", make(chan int))
	assert.ErrorContains(t, err, "marshal payload")

	boom := errors.New("broker down")
	pub.FailWith(boom)
	_, err = pub.Publish(context.Background(), "t", "x")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, pub.Messages())
}
