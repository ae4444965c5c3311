package engine

import (
	"context"
	"time"

	"blockline/internal/domain"
	"blockline/internal/engine/auth"
	"blockline/internal/events"
	"blockline/internal/graph"
	"blockline/internal/repo"
)

// TransitionResult reports how many tasks changed state in total and how
// many of those were carried along rather than requested.
type TransitionResult struct {
	Count int64 `json:"count"`
	Chain int64 `json:"chain"`
}

// Transition archives the requested tasks, or unarchives them when revert is
// set, and cascades the change through the graph. Completion follows the
// configured direction; revert follows the opposite one.
func (e Engine) Transition(ctx context.Context, actorName string, ids []domain.TaskID, revert bool) (TransitionResult, error) {
	defer e.observe("transition", time.Now())
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return TransitionResult{}, violation(KindMalformed, "no tasks given")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback()

	actor, err := e.actor(ctx, tx, actorName)
	if err != nil {
		return TransitionResult{}, err
	}
	tasks, err := e.Repo.TasksByIDs(ctx, tx, ids)
	if err != nil {
		return TransitionResult{}, err
	}
	found := map[domain.TaskID]domain.Task{}
	for _, t := range tasks {
		found[t.ID] = t
	}
	var entries []domain.TaskID
	for _, id := range ids {
		t, ok := found[id]
		if !ok {
			return TransitionResult{}, missingTask(id)
		}
		canView, err := e.Auth.CanView(ctx, tx, actor.ID, t.AssignID)
		if err != nil {
			return TransitionResult{}, err
		}
		if !canView {
			return TransitionResult{}, missingTask(id)
		}
		canEdit, err := e.Auth.CanEdit(ctx, tx, actor.ID, t.AssignID)
		if err != nil {
			return TransitionResult{}, err
		}
		if !canEdit {
			return TransitionResult{}, violation(KindForbidden, "%s: no edit permission", id)
		}
		if t.Archived != revert {
			state := "already archived"
			if revert {
				state = "not archived"
			}
			return TransitionResult{}, violation(KindStructure, "%s: %s", id, state)
		}
		entries = append(entries, id)
	}

	arrows, err := e.Repo.Arrows(ctx, tx)
	if err != nil {
		return TransitionResult{}, err
	}
	dir := e.completeDirection()
	if revert {
		dir = dir.Reverse()
	}
	targets := graph.New(arrows).Closure(entries, dir)
	count, err := e.Repo.SetArchived(ctx, tx, actor.ID, targets, !revert, e.stamp())
	if err != nil {
		return TransitionResult{}, err
	}
	res := TransitionResult{Count: count, Chain: count - int64(len(entries))}
	evt := "tasks.completed"
	if revert {
		evt = "tasks.reverted"
	}
	payload := events.EventPayload{"requested": entries, "count": res.Count, "chain": res.Chain, "direction": dir.String()}
	if err := e.Events.Append(ctx, tx, evt, "task", "", actor.ID, payload); err != nil {
		return TransitionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{}, err
	}
	label := "complete"
	if revert {
		label = "revert"
	}
	transitionedTotal.WithLabelValues(label, "requested").Add(float64(len(entries)))
	transitionedTotal.WithLabelValues(label, "chain").Add(float64(res.Chain))
	e.log().Info("tasks transitioned", "actor", actor.Name, "revert", revert, "count", res.Count, "chain", res.Chain)
	return res, nil
}

// Star toggles the starred flag and returns the new value.
func (e Engine) Star(ctx context.Context, actorName string, id domain.TaskID) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	actor, err := e.actor(ctx, tx, actorName)
	if err != nil {
		return false, err
	}
	if _, err := e.Auth.RequireTask(ctx, tx, actor.ID, id, auth.PermEdit); err != nil {
		return false, err
	}
	starred, err := e.Repo.ToggleStar(ctx, tx, id, e.stamp())
	if err != nil {
		return false, err
	}
	if err := e.Events.Append(ctx, tx, "task.starred", "task", id.String(), actor.ID, events.EventPayload{"starred": starred}); err != nil {
		return false, err
	}
	return starred, tx.Commit()
}

// Focus is one task with its direct neighbours that the actor can see.
type Focus struct {
	Task    domain.Task   `json:"task"`
	Sources []domain.Task `json:"sources"`
	Targets []domain.Task `json:"targets"`
}

func (e Engine) Focus(ctx context.Context, actorName string, id domain.TaskID) (Focus, error) {
	actor, err := e.actor(ctx, nil, actorName)
	if err != nil {
		return Focus{}, err
	}
	t, err := e.Auth.RequireTask(ctx, nil, actor.ID, id, auth.PermView)
	if err != nil {
		return Focus{}, err
	}
	arrows, err := e.Repo.Arrows(ctx, nil)
	if err != nil {
		return Focus{}, err
	}
	idx := graph.New(arrows)
	f := Focus{Task: t, Sources: []domain.Task{}, Targets: []domain.Task{}}
	for _, side := range []struct {
		ids []domain.TaskID
		dst *[]domain.Task
	}{{idx.Sources(id), &f.Sources}, {idx.Targets(id), &f.Targets}} {
		if len(side.ids) == 0 {
			continue
		}
		visible, err := e.Repo.ListVisibleTasks(ctx, nil, actor.ID, repo.TaskFilter{IDs: side.ids})
		if err != nil {
			return Focus{}, err
		}
		*side.dst = append(*side.dst, visible...)
	}
	return f, nil
}
