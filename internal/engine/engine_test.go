package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockline/internal/config"
	"blockline/internal/db"
	"blockline/internal/domain"
	"blockline/internal/engine"
	"blockline/internal/graph"
	"blockline/internal/migrate"
	"blockline/internal/outline"
	"blockline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

var epoch = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return epoch }
	for _, name := range []string{"alice", "bob"} {
		_, err := eng.CreateUser(ctx, name, "UTC")
		require.NoError(t, err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) ingest(t *testing.T, actor, text string) (engine.IngestResult, error) {
	t.Helper()
	lines, err := outline.ParseLines(text)
	require.NoError(t, err)
	return env.Engine.Ingest(env.Ctx, actor, lines)
}

func (env testEnv) mustIngest(t *testing.T, actor, text string) engine.IngestResult {
	t.Helper()
	res, err := env.ingest(t, actor, text)
	require.NoError(t, err)
	return res
}

func (env testEnv) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, env.Engine.DB.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func (env testEnv) task(t *testing.T, id domain.TaskID) domain.Task {
	t.Helper()
	task, err := env.Engine.Repo.GetTask(env.Ctx, nil, id)
	require.NoError(t, err)
	return task
}

func ptr[T any](v T) *T { return &v }

func requireViolation(t *testing.T, err error, kind engine.Kind, msg string) {
	t.Helper()
	var v *engine.ViolationError
	require.True(t, errors.As(err, &v), "want violation, got %v", err)
	assert.Equal(t, kind, v.Kind)
	assert.Contains(t, v.Msg, msg)
}

func TestIngestCreatesTasksAndArrows(t *testing.T) {
	env := newTestEnv(t)
	res := env.mustIngest(t, "alice", "A\n  B\n  C")
	assert.Equal(t, engine.IngestResult{Created: 3}, res)

	arrows, err := env.Engine.Repo.Arrows(env.Ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []graph.Arrow[domain.TaskID]{{Source: 2, Target: 1}, {Source: 3, Target: 1}}, arrows)

	a := env.task(t, 1)
	assert.Equal(t, "A", a.Title)
	assert.Equal(t, "alice", a.Assign)
	assert.False(t, a.Archived)
}

func TestIngestUpdateOverwritesFields(t *testing.T) {
	env := newTestEnv(t)
	env.mustIngest(t, "alice", "* A $3 -5/20 https://x.io/a")
	res := env.mustIngest(t, "alice", "#1 renamed")
	assert.Equal(t, engine.IngestResult{Updated: 1}, res)

	task := env.task(t, 1)
	assert.Equal(t, "renamed", task.Title)
	assert.False(t, task.Starred)
	assert.Nil(t, task.Weight)
	assert.Nil(t, task.Deadline)
	assert.Nil(t, task.Link)
}

func TestIngestAttachesNewSubtreeToStoredTask(t *testing.T) {
	env := newTestEnv(t)
	env.mustIngest(t, "alice", "A")
	res := env.mustIngest(t, "alice", "#1 A\n  B\n  C")
	assert.Equal(t, engine.IngestResult{Created: 2, Updated: 1}, res)
	assert.Equal(t, 2, env.count(t, "arrows"))
}

func TestIngestStoresDatesInUTC(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SetTimezone(env.Ctx, "alice", "Asia/Tokyo")
	require.NoError(t, err)
	env.mustIngest(t, "alice", "A 6/1T9-")
	task := env.task(t, 1)
	require.NotNil(t, task.Startable)
	assert.Equal(t, "2024-06-01T00:00:00Z", *task.Startable)
}

func TestIngestRejections(t *testing.T) {
	tests := []struct {
		name string
		text string
		kind engine.Kind
		msg  string
	}{
		{"self joint", "x] A [x", engine.KindStructure, "loop found"},
		{"joint loop", "x] A [y\ny] B [x", engine.KindStructure, "loop found"},
		{"deadline first", "Deadline check 5/2- -5/1", engine.KindStructure, "Deadline... deadline then startable"},
		{"duplicate id", "#1 X\n#1 Y", engine.KindStructure, "#1 appears multiple times"},
		{"chain of stored", "#1 X\n  #2 Y", engine.KindStructure, "#2 -> #1 existing nodes wiring"},
		{"splice through new", "#1 X [j\nj] N\n#2 Y [j", engine.KindStructure, "existing nodes wiring"},
		{"converge on new", "x] #1 X\ny] #2 Y\nN [x [y", engine.KindStructure, "existing nodes wiring"},
		{"unknown id", "#99 X", engine.KindForbidden, "#99: item not found, or no edit permission"},
		{"foreign id", "#3 X", engine.KindForbidden, "#3: item not found, or no edit permission"},
		{"assignee without grant", "X @bob", engine.KindForbidden, "@bob: user not found"},
		{"unknown assignee", "X @nobody", engine.KindForbidden, "@nobody: user not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.mustIngest(t, "alice", "A\nB")
			env.mustIngest(t, "bob", "bob's")

			_, err := env.ingest(t, "alice", tt.text)
			requireViolation(t, err, tt.kind, tt.msg)
			assert.Equal(t, 3, env.count(t, "tasks"))
			assert.Equal(t, 0, env.count(t, "arrows"))
			assert.Equal(t, "A", env.task(t, 1).Title)
		})
	}
}

// diamondLadder stacks layers of two tasks, each wired to both tasks of the
// layer below. bottom and top are written verbatim as the first and last
// task of the ladder.
func diamondLadder(layers int, bottom, top string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "p0] %s\nq0] Q0\n", bottom)
	for k := 1; k <= layers; k++ {
		fmt.Fprintf(&b, "p%d] P%d [p%d [q%d\n", k, k, k-1, k-1)
		fmt.Fprintf(&b, "q%d] Q%d [p%d [q%d\n", k, k, k-1, k-1)
	}
	fmt.Fprintf(&b, "%s [p%d [q%d\n", top, layers, layers)
	return b.String()
}

func TestIngestDiamondLadder(t *testing.T) {
	const layers = 30
	env := newTestEnv(t)
	env.mustIngest(t, "alice", "Base\nTop")

	start := time.Now()
	_, err := env.ingest(t, "alice", diamondLadder(layers, "#1 Base", "#2 Top"))
	requireViolation(t, err, engine.KindStructure, "#1 -> #2 existing nodes wiring")
	assert.Less(t, time.Since(start), 5*time.Second)

	start = time.Now()
	res := env.mustIngest(t, "alice", diamondLadder(layers, "#1 Base", "Roof"))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, engine.IngestResult{Created: 2*layers + 2, Updated: 1}, res)
	assert.Equal(t, 4*layers+2, env.count(t, "arrows"))
}

func TestIngestUnknownActor(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.ingest(t, "mallory", "A")
	require.Error(t, err)
	assert.Equal(t, 0, env.count(t, "tasks"))
}

func TestIngestAssignsThroughGrant(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Grant(env.Ctx, "bob", "alice", ptr(true))
	require.NoError(t, err)
	env.mustIngest(t, "alice", "X @bob")
	assert.Equal(t, "bob", env.task(t, 1).Assign)

	// view access is not enough to assign
	_, err = env.Engine.Grant(env.Ctx, "bob", "alice", ptr(false))
	require.NoError(t, err)
	_, err = env.ingest(t, "alice", "Y @bob")
	requireViolation(t, err, engine.KindForbidden, "@bob: user not found")
}

func TestTextDispatch(t *testing.T) {
	env := newTestEnv(t)

	reply, err := env.Engine.Text(env.Ctx, "alice", "A\n  B")
	require.NoError(t, err)
	assert.Equal(t, engine.ReplyTasks, reply.Kind)
	assert.Equal(t, engine.IngestResult{Created: 2}, reply.Counts())

	reply, err = env.Engine.Text(env.Ctx, "alice", "/help")
	require.NoError(t, err)
	assert.Equal(t, engine.ReplyHelp, reply.Kind)
	assert.NotEmpty(t, reply.Help)

	reply, err = env.Engine.Text(env.Ctx, "alice", "/user")
	require.NoError(t, err)
	require.NotNil(t, reply.User)
	assert.Equal(t, "alice", reply.User.Name)

	reply, err = env.Engine.Text(env.Ctx, "alice", "/search is:root")
	require.NoError(t, err)
	assert.Equal(t, engine.ReplySearch, reply.Kind)
	require.Len(t, reply.Tasks, 1)
	assert.Equal(t, "B", reply.Tasks[0].Title)

	_, err = env.Engine.Text(env.Ctx, "alice", "A $x")
	var pe *outline.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "weight", pe.Field)

	_, err = env.Engine.Text(env.Ctx, "alice", "/coffee")
	require.True(t, errors.As(err, &pe))
}

func TestTransitionCascade(t *testing.T) {
	env := newTestEnv(t)
	// arrows: B -> A, C -> B
	env.mustIngest(t, "alice", "A\n  B\n    C")

	res, err := env.Engine.Transition(env.Ctx, "alice", []domain.TaskID{3}, false)
	require.NoError(t, err)
	assert.Equal(t, engine.TransitionResult{Count: 3, Chain: 2}, res)
	for _, id := range []domain.TaskID{1, 2, 3} {
		assert.True(t, env.task(t, id).Archived, "task %d", id)
	}

	res, err = env.Engine.Transition(env.Ctx, "alice", []domain.TaskID{1}, true)
	require.NoError(t, err)
	assert.Equal(t, engine.TransitionResult{Count: 3, Chain: 2}, res)

	res, err = env.Engine.Transition(env.Ctx, "alice", []domain.TaskID{2}, false)
	require.NoError(t, err)
	assert.Equal(t, engine.TransitionResult{Count: 2, Chain: 1}, res)
	assert.False(t, env.task(t, 3).Archived)
}

func TestTransitionTowardSourcesConfig(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Propagation.Complete = config.CompleteTowardSources })
	env.mustIngest(t, "alice", "A\n  B\n    C")

	res, err := env.Engine.Transition(env.Ctx, "alice", []domain.TaskID{3}, false)
	require.NoError(t, err)
	assert.Equal(t, engine.TransitionResult{Count: 1, Chain: 0}, res)

	res, err = env.Engine.Transition(env.Ctx, "alice", []domain.TaskID{1}, false)
	require.NoError(t, err)
	assert.Equal(t, engine.TransitionResult{Count: 2, Chain: 1}, res)
}

func TestTransitionRejectsWrongState(t *testing.T) {
	env := newTestEnv(t)
	env.mustIngest(t, "alice", "A")
	_, err := env.Engine.Transition(env.Ctx, "alice", []domain.TaskID{1}, true)
	requireViolation(t, err, engine.KindStructure, "#1: not archived")

	_, err = env.Engine.Transition(env.Ctx, "alice", []domain.TaskID{1}, false)
	require.NoError(t, err)
	_, err = env.Engine.Transition(env.Ctx, "alice", []domain.TaskID{1}, false)
	requireViolation(t, err, engine.KindStructure, "#1: already archived")
}

func TestTransitionPermissions(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Grant(env.Ctx, "bob", "alice", ptr(true))
	require.NoError(t, err)
	// A belongs to bob, B to alice, B -> A
	env.mustIngest(t, "alice", "A @bob\n  B")
	_, err = env.Engine.Grant(env.Ctx, "bob", "alice", ptr(false))
	require.NoError(t, err)

	res, err := env.Engine.Transition(env.Ctx, "alice", []domain.TaskID{2}, false)
	require.NoError(t, err)
	assert.Equal(t, engine.TransitionResult{Count: 1, Chain: 0}, res)
	assert.False(t, env.task(t, 1).Archived)

	_, err = env.Engine.Transition(env.Ctx, "alice", []domain.TaskID{1}, false)
	requireViolation(t, err, engine.KindForbidden, "#1: no edit permission")
	_, err = env.Engine.Transition(env.Ctx, "alice", []domain.TaskID{42}, false)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.EqualError(t, err, "#42: not found")

	_, err = env.Engine.Grant(env.Ctx, "bob", "alice", nil)
	require.NoError(t, err)
	_, err = env.Engine.Transition(env.Ctx, "alice", []domain.TaskID{1}, false)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDeleteTwoPhase(t *testing.T) {
	env := newTestEnv(t)
	env.mustIngest(t, "alice", "A\n  B\nC")

	pending, err := env.Engine.Delete(env.Ctx, "alice", []domain.TaskID{2, 1}, "")
	require.NoError(t, err)
	require.NotEmpty(t, pending.Token)
	assert.Equal(t, 3, env.count(t, "tasks"))

	done, err := env.Engine.Delete(env.Ctx, "alice", []domain.TaskID{1, 2}, pending.Token)
	require.NoError(t, err)
	assert.Empty(t, done.Token)
	assert.Equal(t, int64(2), done.Deleted)
	assert.Equal(t, 1, env.count(t, "tasks"))
	assert.Equal(t, 0, env.count(t, "arrows"))

	_, err = env.Engine.Delete(env.Ctx, "alice", []domain.TaskID{3}, pending.Token)
	requireViolation(t, err, engine.KindForbidden, "invalid or expired")
}

func TestDeleteRequiresOwnership(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Grant(env.Ctx, "bob", "alice", ptr(true))
	require.NoError(t, err)
	env.mustIngest(t, "alice", "X @bob")

	_, err = env.Engine.Delete(env.Ctx, "alice", []domain.TaskID{1}, "")
	requireViolation(t, err, engine.KindForbidden, "#1: not your item")
	_, err = env.Engine.Delete(env.Ctx, "alice", []domain.TaskID{7}, "")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestOperationsOnDeletedTask(t *testing.T) {
	env := newTestEnv(t)
	env.mustIngest(t, "alice", "A")
	pending, err := env.Engine.Delete(env.Ctx, "alice", []domain.TaskID{1}, "")
	require.NoError(t, err)
	_, err = env.Engine.Delete(env.Ctx, "alice", []domain.TaskID{1}, pending.Token)
	require.NoError(t, err)

	_, err = env.Engine.Transition(env.Ctx, "alice", []domain.TaskID{1}, false)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.Delete(env.Ctx, "alice", []domain.TaskID{1}, "")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.Delete(env.Ctx, "alice", []domain.TaskID{1}, pending.Token)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.Star(env.Ctx, "alice", 1)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDeleteTokenBinding(t *testing.T) {
	env := newTestEnv(t)
	env.mustIngest(t, "alice", "A\nB")
	env.mustIngest(t, "bob", "C")

	pending, err := env.Engine.Delete(env.Ctx, "alice", []domain.TaskID{1}, "")
	require.NoError(t, err)
	_, err = env.Engine.Delete(env.Ctx, "alice", []domain.TaskID{1, 2}, pending.Token)
	requireViolation(t, err, engine.KindForbidden, "does not match")
	_, err = env.Engine.Delete(env.Ctx, "bob", []domain.TaskID{3}, pending.Token)
	requireViolation(t, err, engine.KindForbidden, "does not match")

	late := env.Engine
	late.Now = func() time.Time { return epoch.Add(time.Hour) }
	_, err = late.Delete(env.Ctx, "alice", []domain.TaskID{1}, pending.Token)
	requireViolation(t, err, engine.KindForbidden, "invalid or expired")
	assert.Equal(t, 3, env.count(t, "tasks"))
}

func TestStarToggle(t *testing.T) {
	env := newTestEnv(t)
	env.mustIngest(t, "alice", "A")

	starred, err := env.Engine.Star(env.Ctx, "alice", 1)
	require.NoError(t, err)
	assert.True(t, starred)
	starred, err = env.Engine.Star(env.Ctx, "alice", 1)
	require.NoError(t, err)
	assert.False(t, starred)

	_, err = env.Engine.Star(env.Ctx, "alice", 99)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
	_, err = env.Engine.Star(env.Ctx, "bob", 1)
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	_, err = env.Engine.Grant(env.Ctx, "alice", "bob", ptr(false))
	require.NoError(t, err)
	_, err = env.Engine.Star(env.Ctx, "bob", 1)
	assert.EqualError(t, err, "#1: no edit permission")
}

func ids(tasks []domain.Task) []domain.TaskID {
	out := make([]domain.TaskID, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	// B -> A
	env.mustIngest(t, "alice", "* A $2\n  B $5\nC https://docs.example.com/c")

	search := func(c outline.Condition) []domain.TaskID {
		t.Helper()
		tasks, err := env.Engine.Search(env.Ctx, "alice", c)
		require.NoError(t, err)
		return ids(tasks)
	}
	assert.Equal(t, []domain.TaskID{1, 3, 2}, search(outline.Condition{}))
	assert.Equal(t, []domain.TaskID{1, 3}, search(outline.Condition{Leaf: ptr(true)}))
	assert.Equal(t, []domain.TaskID{3, 2}, search(outline.Condition{Root: ptr(true)}))
	assert.Equal(t, []domain.TaskID{2}, search(outline.Condition{Weight: outline.FloatRange{Min: ptr(3.0)}}))
	assert.Equal(t, []domain.TaskID{1, 2}, search(outline.Condition{Title: &outline.Expression{Regex: "^[AB]$"}}))
	assert.Equal(t, []domain.TaskID{3}, search(outline.Condition{Link: &outline.Expression{Words: []string{"docs"}}}))
	assert.Equal(t, []domain.TaskID{1, 2}, search(outline.Condition{Context: &outline.Context{ID: 2, Direction: "targets"}}))
	assert.Equal(t, []domain.TaskID{1}, search(outline.Condition{Starred: ptr(true)}))
	assert.Empty(t, search(outline.Condition{Archived: ptr(true)}))
	assert.Equal(t, []domain.TaskID{1, 3, 2}, search(outline.Condition{CreatedAt: outline.TimeRange{From: "2024/5/10", To: "2024/5/11"}}))
	assert.Empty(t, search(outline.Condition{CreatedAt: outline.TimeRange{To: "2024/5/9"}}))

	_, err := env.Engine.Search(env.Ctx, "alice", outline.Condition{Title: &outline.Expression{Regex: "("}})
	var pe *outline.ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestSearchVisibilityAndLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Search.Limit = 2 })
	env.mustIngest(t, "alice", "A\nB\nC")

	tasks, err := env.Engine.Search(env.Ctx, "bob", outline.Condition{})
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = env.Engine.Grant(env.Ctx, "alice", "bob", ptr(false))
	require.NoError(t, err)
	tasks, err = env.Engine.Search(env.Ctx, "bob", outline.Condition{})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestFocus(t *testing.T) {
	env := newTestEnv(t)
	env.mustIngest(t, "alice", "A\n  B\n    C")
	f, err := env.Engine.Focus(env.Ctx, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, "B", f.Task.Title)
	assert.Equal(t, []domain.TaskID{3}, ids(f.Sources))
	assert.Equal(t, []domain.TaskID{1}, ids(f.Targets))

	_, err = env.Engine.Focus(env.Ctx, "bob", 2)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestUserInfoAndGrants(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Grant(env.Ctx, "alice", "bob", ptr(true))
	require.NoError(t, err)
	env.mustIngest(t, "alice", "A")
	_, err = env.Engine.Transition(env.Ctx, "alice", []domain.TaskID{1}, false)
	require.NoError(t, err)

	info, err := env.Engine.UserInfo(env.Ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Executed)
	assert.Equal(t, []string{"bob"}, info.EditTo)
	assert.Empty(t, info.EditFrom)

	info, err = env.Engine.UserInfo(env.Ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, info.EditFrom)

	_, err = env.Engine.Grant(env.Ctx, "alice", "alice", ptr(false))
	requireViolation(t, err, engine.KindStructure, "own permission")
	_, err = env.Engine.Grant(env.Ctx, "alice", "nobody", ptr(false))
	requireViolation(t, err, engine.KindStructure, "nobody: user not found")

	_, err = env.Engine.CreateUser(env.Ctx, "alice", "UTC")
	requireViolation(t, err, engine.KindStructure, "already in use")
	_, err = env.Engine.CreateUser(env.Ctx, "carol", "Mars/Base")
	requireViolation(t, err, engine.KindMalformed, "unknown timezone")
}

func TestAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, "alice", "laptop")
	require.NoError(t, err)
	assert.NotEqual(t, secret, key.KeyHash)

	u, err := env.Engine.UserForAPIKey(env.Ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name)

	_, err = env.Engine.UserForAPIKey(env.Ctx, "bl_wrong")
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	keys, err := env.Engine.APIKeys(env.Ctx, "alice")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "laptop", keys[0].Name)

	assert.ErrorIs(t, env.Engine.RevokeAPIKey(env.Ctx, "bob", key.ID), repo.ErrNotFound)
	require.NoError(t, env.Engine.RevokeAPIKey(env.Ctx, "alice", key.ID))
	_, err = env.Engine.UserForAPIKey(env.Ctx, secret)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.mustIngest(t, "alice", "A")
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: "batch.committed", Limit: 10})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.JSONEq(t, `{"created":1,"updated":0,"arrows":0}`, evts[0].Payload)

	env.mustIngest(t, "bob", "B")
	mine, err := env.Engine.ListEvents(env.Ctx, "bob", repo.EventFilter{Type: "batch.committed"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.JSONEq(t, `{"created":1,"updated":0,"arrows":0}`, mine[0].Payload)

	_, err = env.Engine.ListEvents(env.Ctx, "mallory", repo.EventFilter{})
	assert.Error(t, err)
}

func TestConcurrentBatchesSerialize(t *testing.T) {
	env := newTestEnv(t)
	pool := engine.NewPool(4)
	lines, err := outline.ParseLines("A\n  B")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Do(env.Ctx, pool, func(ctx context.Context) (engine.IngestResult, error) {
				return env.Engine.Ingest(ctx, "alice", lines)
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 16, env.count(t, "tasks"))
	assert.Equal(t, 8, env.count(t, "arrows"))
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := engine.NewPool(2)
	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Run(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, int32(2))

	block := make(chan struct{})
	started := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go pool.Run(context.Background(), func(context.Context) error {
			started <- struct{}{}
			<-block
			return nil
		})
	}
	<-started
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := pool.Run(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(block)
}
