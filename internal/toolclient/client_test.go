package toolclient_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnitech/omnidesk/internal/api"
	"github.com/omnitech/omnidesk/internal/classify"
	"github.com/omnitech/omnidesk/internal/storage"
	"github.com/omnitech/omnidesk/internal/toolclient"
	"github.com/omnitech/omnidesk/internal/toolserver"
	"github.com/omnitech/omnidesk/internal/toolserver/servertest"
)

func connect(t *testing.T) (*toolclient.Client, *toolserver.Server) {
	t.Helper()
	backend := servertest.New(t)
	c, err := toolclient.NewInProcess(context.Background(), api.NewMCPServer(backend, "test"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, backend
}

func TestDiscovery(t *testing.T) {
	c, backend := connect(t)

	var names []string
	for _, tool := range c.Tools() {
		names = append(names, tool.Name)
	}
	var want []string
	for _, op := range backend.Operations() {
		want = append(want, op.Name)
	}
	assert.ElementsMatch(t, want, names)
	assert.True(t, c.Has("classify_query"))
	assert.False(t, c.Has("drop_tables"))
}

func TestCall_DecodesResult(t *testing.T) {
	c, _ := connect(t)

	var res classify.Result
	require.NoError(t, c.Call(context.Background(), "classify_query", map[string]any{
		"query": "How do I reset my password?",
	}, &res))
	assert.Equal(t, "account_security", res.Category)
	assert.False(t, res.Fallback)
}

func TestCall_MapsErrors(t *testing.T) {
	c, _ := connect(t)
	ctx := context.Background()

	err := c.Call(ctx, "lookup_customer", map[string]any{"email": "unknown@x.com"}, nil)
	assert.ErrorIs(t, err, toolserver.ErrNotFound)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var remote *toolclient.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, toolserver.CodeNotFound, remote.Code)

	err = c.Call(ctx, "search_knowledge", map[string]any{"query": "x", "top_k": 500}, nil)
	assert.ErrorIs(t, err, toolserver.ErrInvalidArguments)
	assert.NotErrorIs(t, err, toolclient.ErrTransport)
}

func TestCall_UnknownToolIsRecorded(t *testing.T) {
	c, backend := connect(t)

	err := c.Call(context.Background(), "drop_tables", nil, nil)
	assert.ErrorIs(t, err, toolserver.ErrToolNotFound)

	stats, err := backend.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCalls)
	assert.Equal(t, 1, stats.FailedCalls)
}

func TestReadResource(t *testing.T) {
	c, _ := connect(t)

	raw, err := c.ReadResource(context.Background(), toolserver.ResourceStorageSummary)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"customers":4`)

	_, err = c.ReadResource(context.Background(), "omnidesk://missing")
	assert.ErrorIs(t, err, toolclient.ErrTransport)
}
