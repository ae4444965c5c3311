package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"blockline/internal/domain"
	"blockline/internal/events"
	"blockline/internal/repo"
)

// DeleteResult carries the confirmation token of a pending deletion. Token
// is empty once the deletion has happened.
type DeleteResult struct {
	Token     string          `json:"token,omitempty"`
	ExpiresAt string          `json:"expires_at,omitempty"`
	Deleted   int64           `json:"deleted"`
	Tasks     []domain.TaskID `json:"tasks"`
}

// Delete removes tasks in two steps. Without a token it checks ownership and
// issues a single-use token bound to the task set. With the token it checks
// again and deletes; arrows touching the tasks go with them.
func (e Engine) Delete(ctx context.Context, actorName string, ids []domain.TaskID, token string) (DeleteResult, error) {
	defer e.observe("delete", time.Now())
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return DeleteResult{}, violation(KindMalformed, "no tasks given")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DeleteResult{}, err
	}
	defer tx.Rollback()

	actor, err := e.actor(ctx, tx, actorName)
	if err != nil {
		return DeleteResult{}, err
	}
	if err := e.requireOwned(ctx, tx, actor, ids); err != nil {
		return DeleteResult{}, err
	}
	now := e.now()
	if err := e.Repo.PurgeDeletionTokens(ctx, tx, repo.FormatTime(now)); err != nil {
		return DeleteResult{}, err
	}

	if token == "" {
		tok := domain.DeletionToken{
			ID:        uuid.NewString(),
			UserID:    actor.ID,
			Tasks:     ids,
			ExpiresAt: repo.FormatTime(now.Add(e.Config.Deletion.TokenTTL)),
		}
		if err := e.Repo.InsertDeletionToken(ctx, tx, tok); err != nil {
			return DeleteResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return DeleteResult{}, err
		}
		return DeleteResult{Token: tok.ID, ExpiresAt: tok.ExpiresAt, Tasks: ids}, nil
	}

	tok, err := e.Repo.TakeDeletionToken(ctx, tx, token)
	if errors.Is(err, repo.ErrNotFound) {
		return DeleteResult{}, violation(KindForbidden, "deletion token is invalid or expired")
	}
	if err != nil {
		return DeleteResult{}, err
	}
	if tok.UserID != actor.ID || !slices.Equal(normalizeIDs(tok.Tasks), ids) {
		return DeleteResult{}, violation(KindForbidden, "deletion token does not match these tasks")
	}
	if tok.ExpiresAt < repo.FormatTime(now) {
		return DeleteResult{}, violation(KindForbidden, "deletion token is invalid or expired")
	}
	n, err := e.Repo.DeleteTasks(ctx, tx, ids)
	if err != nil {
		return DeleteResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "tasks.deleted", "task", "", actor.ID, events.EventPayload{"tasks": ids}); err != nil {
		return DeleteResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return DeleteResult{}, err
	}
	deletedTotal.Add(float64(n))
	e.log().Info("tasks deleted", "actor", actor.Name, "count", n)
	return DeleteResult{Deleted: n, Tasks: ids}, nil
}

// requireOwned checks every task exists and is assigned to the actor. Edit
// rights over someone else's tasks are not enough to delete them. A task the
// actor cannot see is reported as missing.
func (e Engine) requireOwned(ctx context.Context, tx *sql.Tx, actor domain.User, ids []domain.TaskID) error {
	tasks, err := e.Repo.TasksByIDs(ctx, tx, ids)
	if err != nil {
		return err
	}
	found := map[domain.TaskID]domain.Task{}
	for _, t := range tasks {
		found[t.ID] = t
	}
	for _, id := range ids {
		t, ok := found[id]
		if !ok {
			return missingTask(id)
		}
		if t.AssignID == actor.ID {
			continue
		}
		canView, err := e.Auth.CanView(ctx, tx, actor.ID, t.AssignID)
		if err != nil {
			return err
		}
		if !canView {
			return missingTask(id)
		}
		return violation(KindForbidden, "%s: not your item", id)
	}
	return nil
}

// missingTask reports an id that does not exist, or no longer does.
func missingTask(id domain.TaskID) error {
	return fmt.Errorf("%s: %w", id, repo.ErrNotFound)
}

func normalizeIDs(ids []domain.TaskID) []domain.TaskID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
