package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"blockline/internal/domain"
)

const taskColumns = `t.id,t.title,t.assign,u.name,t.is_starred,t.is_archived,t.startable,t.deadline,t.weight,t.link,t.created_at,t.updated_at`

const taskFrom = ` FROM tasks t JOIN users u ON u.id=t.assign`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var startable, deadline, link sql.NullString
	var weight sql.NullFloat64
	err := row.Scan(&t.ID, &t.Title, &t.AssignID, &t.Assign, &t.Starred, &t.Archived, &startable, &deadline, &weight, &link, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if startable.Valid {
		t.Startable = &startable.String
	}
	if deadline.Valid {
		t.Deadline = &deadline.String
	}
	if weight.Valid {
		t.Weight = &weight.Float64
	}
	if link.Valid {
		t.Link = &link.String
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]domain.Task, error) {
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TaskFields is the writable part of a task row.
type TaskFields struct {
	Title     string
	Assign    domain.UserID
	Starred   bool
	Startable *string
	Deadline  *string
	Weight    *float64
	Link      *string
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, f TaskFields, now string) (domain.TaskID, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(title,assign,is_starred,is_archived,startable,deadline,weight,link,created_at,updated_at) VALUES (?,?,?,0,?,?,?,?,?,?)`,
		f.Title, int64(f.Assign), f.Starred, nullableStringPtr(f.Startable), nullableStringPtr(f.Deadline), nullableFloat(f.Weight), nullableStringPtr(f.Link), now, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return domain.TaskID(id), err
}

// UpdateTask overwrites every writable field. Archive state is untouched.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, id domain.TaskID, f TaskFields, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET title=?, assign=?, is_starred=?, startable=?, deadline=?, weight=?, link=?, updated_at=? WHERE id=?`,
		f.Title, int64(f.Assign), f.Starred, nullableStringPtr(f.Startable), nullableStringPtr(f.Deadline), nullableFloat(f.Weight), nullableStringPtr(f.Link), now, int64(id))
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id domain.TaskID) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+taskFrom+` WHERE t.id=?`, int64(id)))
}

// TasksByIDs returns the rows that exist, in id order.
func (r Repo) TasksByIDs(ctx context.Context, tx *sql.Tx, ids []domain.TaskID) ([]domain.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+taskColumns+taskFrom+` WHERE t.id IN (`+placeholders(len(ids))+`) ORDER BY t.id`, idArgs(ids)...)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// SetArchived flips is_archived on the given tasks that the actor may edit
// and that are currently in the opposite state. It returns the rows changed.
func (r Repo) SetArchived(ctx context.Context, tx *sql.Tx, actor domain.UserID, ids []domain.TaskID, archived bool, now string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{archived, now, !archived, int64(actor)}, idArgs(ids)...)
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET is_archived=?, updated_at=?
WHERE is_archived=?
AND EXISTS (SELECT 1 FROM permissions p WHERE p.subject=? AND p.object=tasks.assign AND p.edit=1)
AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ToggleStar flips is_starred and returns the new value.
func (r Repo) ToggleStar(ctx context.Context, tx *sql.Tx, id domain.TaskID, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET is_starred = NOT is_starred, updated_at=? WHERE id=?`, now, int64(id))
	if err != nil {
		return false, err
	}
	if err := affectedOrNotFound(res); err != nil {
		return false, err
	}
	var starred bool
	err = r.q(tx).QueryRowContext(ctx, `SELECT is_starred FROM tasks WHERE id=?`, int64(id)).Scan(&starred)
	return starred, err
}

// DeleteTasks removes tasks; their arrows cascade.
func (r Repo) DeleteTasks(ctx context.Context, tx *sql.Tx, ids []domain.TaskID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id IN (`+placeholders(len(ids))+`)`, idArgs(ids)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountArchived counts archived tasks assigned to user.
func (r Repo) CountArchived(ctx context.Context, tx *sql.Tx, user domain.UserID) (int64, error) {
	var n int64
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE assign=? AND is_archived=1`, int64(user)).Scan(&n)
	return n, err
}

// TaskFilter narrows ListVisibleTasks. Time bounds are storage-form strings.
type TaskFilter struct {
	IDs           []domain.TaskID
	Archived      *bool
	Starred       *bool
	WeightMin     *float64
	WeightMax     *float64
	StartableFrom string
	StartableTo   string
	DeadlineFrom  string
	DeadlineTo    string
	CreatedFrom   string
	CreatedTo     string
	UpdatedFrom   string
	UpdatedTo     string
	TitleWords    []string
	AssignWords   []string
	LinkWords     []string
	Limit         int
}

func likePattern(word string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(word) + "%"
}

// ListVisibleTasks returns tasks whose assignee has granted the viewer any
// permission, starred first then most recently updated.
func (r Repo) ListVisibleTasks(ctx context.Context, tx *sql.Tx, viewer domain.UserID, f TaskFilter) ([]domain.Task, error) {
	clauses := []string{"EXISTS (SELECT 1 FROM permissions p WHERE p.subject=? AND p.object=t.assign)"}
	args := []any{int64(viewer)}
	add := func(clause string, arg any) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}
	if len(f.IDs) > 0 {
		clauses = append(clauses, "t.id IN ("+placeholders(len(f.IDs))+")")
		args = append(args, idArgs(f.IDs)...)
	}
	if f.Archived != nil {
		add("t.is_archived=?", *f.Archived)
	}
	if f.Starred != nil {
		add("t.is_starred=?", *f.Starred)
	}
	if f.WeightMin != nil {
		add("t.weight>=?", *f.WeightMin)
	}
	if f.WeightMax != nil {
		add("t.weight<=?", *f.WeightMax)
	}
	for _, b := range []struct {
		col, op, val string
	}{
		{"t.startable", ">=", f.StartableFrom}, {"t.startable", "<=", f.StartableTo},
		{"t.deadline", ">=", f.DeadlineFrom}, {"t.deadline", "<=", f.DeadlineTo},
		{"t.created_at", ">=", f.CreatedFrom}, {"t.created_at", "<=", f.CreatedTo},
		{"t.updated_at", ">=", f.UpdatedFrom}, {"t.updated_at", "<=", f.UpdatedTo},
	} {
		if b.val != "" {
			add(fmt.Sprintf("%s%s?", b.col, b.op), b.val)
		}
	}
	for _, w := range f.TitleWords {
		add(`t.title LIKE ? ESCAPE '\'`, likePattern(w))
	}
	for _, w := range f.AssignWords {
		add(`u.name LIKE ? ESCAPE '\'`, likePattern(w))
	}
	for _, w := range f.LinkWords {
		add(`t.link LIKE ? ESCAPE '\'`, likePattern(w))
	}
	query := `SELECT ` + taskColumns + taskFrom + ` WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY t.is_starred DESC, t.updated_at DESC, t.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}
