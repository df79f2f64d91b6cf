package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "runs", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "not configured")
}

func TestDialRequiresProjectAndTopic(t *testing.T) {
	t.Parallel()

	_, _, err := Dial(context.Background(), "", "runs")
	require.Error(t, err)
	_, _, err = Dial(context.Background(), "proj", "")
	require.Error(t, err)
}
