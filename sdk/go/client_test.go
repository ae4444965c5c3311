package blocklinesdk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockline/internal/config"
	"blockline/internal/db"
	"blockline/internal/engine"
	"blockline/internal/migrate"
	"blockline/internal/server"
	blocklinesdk "blockline/sdk/go"
)

func newClient(t *testing.T) (*blocklinesdk.Client, *blocklinesdk.Client) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	e := engine.New(conn, config.Default())
	for _, name := range []string{"alice", "bob"} {
		_, err := e.CreateUser(ctx, name, "UTC")
		require.NoError(t, err)
	}
	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: "sdk-secret", DevLogin: true},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	alice, bob := blocklinesdk.New(srv.URL), blocklinesdk.New(srv.URL)
	require.NoError(t, alice.Login(ctx, "alice"))
	require.NoError(t, bob.Login(ctx, "bob"))
	return alice, bob
}

func TestClientWorkflow(t *testing.T) {
	ctx := context.Background()
	alice, bob := newClient(t)

	reply, err := alice.Text(ctx, "Release\n  Write notes\n  Tag build")
	require.NoError(t, err)
	require.Equal(t, "tasks", reply.Kind)
	assert.Equal(t, 3, reply.Created)
	assert.Zero(t, reply.Updated)

	focus, err := alice.Focus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Release", focus.Task.Title)
	assert.Len(t, focus.Sources, 2)

	res, err := alice.Complete(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, blocklinesdk.TransitionResult{Count: 3, Chain: 1}, res)

	open, err := alice.Search(ctx, map[string]any{"archived": false})
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = bob.Focus(ctx, 1)
	assert.True(t, blocklinesdk.IsStatus(err, http.StatusNotFound), "%v", err)

	view := false
	_, err = alice.Grant(ctx, "bob", &view)
	require.NoError(t, err)
	_, err = bob.Focus(ctx, 1)
	require.NoError(t, err)
	_, err = bob.Revert(ctx, 1)
	var apiErr *blocklinesdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "forbidden", apiErr.Code)

	starred, err := alice.Star(ctx, 1)
	require.NoError(t, err)
	assert.True(t, starred)

	me, err := bob.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, me.ViewFrom)
}

func TestClientDelete(t *testing.T) {
	ctx := context.Background()
	alice, _ := newClient(t)
	_, err := alice.Text(ctx, "Scratch")
	require.NoError(t, err)

	pending, err := alice.Delete(ctx, "", 1)
	require.NoError(t, err)
	require.NotEmpty(t, pending.Token)

	done, err := alice.Delete(ctx, pending.Token, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, done.Deleted)

	_, err = alice.Delete(ctx, pending.Token, 1)
	assert.True(t, blocklinesdk.IsStatus(err, http.StatusNotFound), "%v", err)

	evts, err := alice.Events(ctx, "tasks.deleted", 10)
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}
