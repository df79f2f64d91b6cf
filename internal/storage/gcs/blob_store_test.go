package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "b", Prefix: "/fallback/"})
	require.NoError(t, err)
	require.Equal(t, "fallback/mastodon_data.csv", store.ObjectName("mastodon_data.csv"))

	bare, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	require.Equal(t, "mastodon_data.csv", bare.ObjectName("mastodon_data.csv"))
}
