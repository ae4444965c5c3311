package auth

import (
	"context"
	"database/sql"
	"fmt"

	"blockline/internal/domain"
	"blockline/internal/repo"
)

// ForbiddenError indicates missing permission on a task or user.
type ForbiddenError struct {
	Subject    string
	Permission string
}

func (e ForbiddenError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s permission required", e.Permission)
	}
	return fmt.Sprintf("%s: no %s permission", e.Subject, e.Permission)
}

const (
	PermView = "view"
	PermEdit = "edit"
)

// Service answers permission questions against the grant table.
type Service struct {
	Repo repo.Repo
}

func (s Service) CanView(ctx context.Context, tx *sql.Tx, actor, owner domain.UserID) (bool, error) {
	view, _, err := s.Repo.Permission(ctx, tx, actor, owner)
	return view, err
}

func (s Service) CanEdit(ctx context.Context, tx *sql.Tx, actor, owner domain.UserID) (bool, error) {
	_, edit, err := s.Repo.Permission(ctx, tx, actor, owner)
	return edit, err
}

// RequireTask loads a task and checks the actor holds perm over its assignee.
// A task the actor cannot even view is reported as not found.
func (s Service) RequireTask(ctx context.Context, tx *sql.Tx, actor domain.UserID, id domain.TaskID, perm string) (domain.Task, error) {
	t, err := s.Repo.GetTask(ctx, tx, id)
	if err != nil {
		return t, err
	}
	view, edit, err := s.Repo.Permission(ctx, tx, actor, t.AssignID)
	if err != nil {
		return t, err
	}
	if !view {
		return t, repo.ErrNotFound
	}
	if perm == PermEdit && !edit {
		return t, ForbiddenError{Subject: id.String(), Permission: PermEdit}
	}
	return t, nil
}
