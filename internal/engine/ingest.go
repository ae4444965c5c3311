package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"blockline/internal/domain"
	"blockline/internal/events"
	"blockline/internal/graph"
	"blockline/internal/outline"
	"blockline/internal/repo"
)

// IngestResult counts what a committed batch wrote.
type IngestResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// plan is a validated batch with every assignee resolved.
type plan struct {
	batch   outline.Batch
	assigns []domain.UserID
}

// Ingest compiles lines for the actor, validates the batch and commits it in
// one transaction. A rejected batch writes nothing.
func (e Engine) Ingest(ctx context.Context, actorName string, lines []outline.Line) (IngestResult, error) {
	defer e.observe("ingest", time.Now())
	res, err := e.ingest(ctx, actorName, lines)
	if err != nil {
		batchesTotal.WithLabelValues("rejected").Inc()
		return res, err
	}
	batchesTotal.WithLabelValues("committed").Inc()
	batchTasksTotal.WithLabelValues("created").Add(float64(res.Created))
	batchTasksTotal.WithLabelValues("updated").Add(float64(res.Updated))
	return res, nil
}

func (e Engine) ingest(ctx context.Context, actorName string, lines []outline.Line) (IngestResult, error) {
	actor, err := e.actor(ctx, nil, actorName)
	if err != nil {
		return IngestResult{}, err
	}
	zone, err := e.zone(actor)
	if err != nil {
		return IngestResult{}, err
	}
	batch, err := outline.Compile(lines, zone)
	if err != nil {
		return IngestResult{}, err
	}
	if err := checkShape(batch); err != nil {
		return IngestResult{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return IngestResult{}, err
	}
	defer tx.Rollback()
	p, err := e.validate(ctx, tx, actor, batch)
	if err != nil {
		return IngestResult{}, err
	}
	res, err := e.commit(ctx, tx, actor, p)
	if err != nil {
		return IngestResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return IngestResult{}, err
	}
	e.log().Info("batch committed", "actor", actor.Name, "created", res.Created, "updated", res.Updated, "arrows", len(batch.Arrows))
	return res, nil
}

// checkShape runs the checks that need nothing but the batch, in a fixed
// order, and stops at the first failure.
func checkShape(b outline.Batch) error {
	idx := b.Index()
	if cycle := idx.Cycle(); cycle != nil {
		return violation(KindStructure, "loop found: %s", slotTitles(b, cycle))
	}
	for _, t := range b.Tasks {
		if t.Startable != nil && t.Deadline != nil && t.Deadline.Before(*t.Startable) {
			return violation(KindStructure, "%s... deadline then startable", headOf(t.Title, 8))
		}
	}
	if err := uniqueIDs(b); err != nil {
		return err
	}
	stored := func(s outline.Slot) int {
		if b.Tasks[s].ID != nil {
			return 1
		}
		return 0
	}
	if err := singleIDAlong(b, idx.HeaviestPath(stored)); err != nil {
		return err
	}
	// Two stored tasks joined through new ones would be rewired too, whatever
	// the arrows' direction.
	for _, comp := range idx.Components() {
		if err := singleIDAlong(b, comp); err != nil {
			return err
		}
	}
	return nil
}

// validate checks the batch against the store: edit rights on every stored
// task and on every assignee.
func (e Engine) validate(ctx context.Context, tx *sql.Tx, actor domain.User, b outline.Batch) (plan, error) {
	for _, t := range b.Tasks {
		if t.ID == nil {
			continue
		}
		if err := e.requireEditableTask(ctx, tx, actor, *t.ID); err != nil {
			return plan{}, err
		}
	}
	assigns, err := e.resolveAssignees(ctx, tx, actor, b)
	if err != nil {
		return plan{}, err
	}
	return plan{batch: b, assigns: assigns}, nil
}

func uniqueIDs(b outline.Batch) error {
	var ids []domain.TaskID
	for _, t := range b.Tasks {
		if t.ID != nil {
			ids = append(ids, *t.ID)
		}
	}
	slices.Sort(ids)
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			return violation(KindStructure, "%s appears multiple times", ids[i])
		}
	}
	return nil
}

func singleIDAlong(b outline.Batch, slots []outline.Slot) error {
	var ids []domain.TaskID
	for _, s := range slots {
		if id := b.Tasks[s].ID; id != nil {
			ids = append(ids, *id)
		}
	}
	if len(ids) > 1 {
		return violation(KindStructure, "%s -> %s existing nodes wiring", ids[0], ids[1])
	}
	return nil
}

func (e Engine) requireEditableTask(ctx context.Context, tx *sql.Tx, actor domain.User, id domain.TaskID) error {
	t, err := e.Repo.GetTask(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return violation(KindForbidden, "%s: item not found, or no edit permission", id)
	}
	if err != nil {
		return err
	}
	ok, err := e.Auth.CanEdit(ctx, tx, actor.ID, t.AssignID)
	if err != nil {
		return err
	}
	if !ok {
		return violation(KindForbidden, "%s: item not found, or no edit permission", id)
	}
	return nil
}

func (e Engine) resolveAssignees(ctx context.Context, tx *sql.Tx, actor domain.User, b outline.Batch) ([]domain.UserID, error) {
	cache := map[string]domain.UserID{}
	out := make([]domain.UserID, len(b.Tasks))
	for i, t := range b.Tasks {
		if t.Assign == "" {
			out[i] = actor.ID
			continue
		}
		if id, ok := cache[t.Assign]; ok {
			out[i] = id
			continue
		}
		u, err := e.Repo.GetUserByName(ctx, tx, t.Assign)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, violation(KindForbidden, "@%s: user not found", t.Assign)
		}
		if err != nil {
			return nil, err
		}
		ok, err := e.Auth.CanEdit(ctx, tx, actor.ID, u.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, violation(KindForbidden, "@%s: user not found", t.Assign)
		}
		cache[t.Assign] = u.ID
		out[i] = u.ID
	}
	return out, nil
}

// commit writes tasks in batch order, remaps arrows to stored ids and checks
// the merged graph is still acyclic before inserting them.
func (e Engine) commit(ctx context.Context, tx *sql.Tx, actor domain.User, p plan) (IngestResult, error) {
	var res IngestResult
	now := e.stamp()
	mapping := outline.NewMapping(len(p.batch.Tasks))
	for i, t := range p.batch.Tasks {
		f := repo.TaskFields{
			Title:     t.Title,
			Assign:    p.assigns[i],
			Starred:   t.Starred,
			Startable: optionalTime(t.Startable),
			Deadline:  optionalTime(t.Deadline),
			Weight:    t.Weight,
			Link:      t.Link,
		}
		if t.ID == nil {
			id, err := e.Repo.InsertTask(ctx, tx, f, now)
			if err != nil {
				return res, fmt.Errorf("insert line %d: %w", t.Line, err)
			}
			mapping.Set(t.Slot, id)
			res.Created++
			continue
		}
		if err := e.Repo.UpdateTask(ctx, tx, *t.ID, f, now); err != nil {
			return res, fmt.Errorf("update %s: %w", *t.ID, err)
		}
		mapping.Set(t.Slot, *t.ID)
		res.Updated++
	}
	arrows, err := mapping.Arrows(p.batch.Arrows)
	if err != nil {
		return res, err
	}
	if len(arrows) > 0 {
		stored, err := e.Repo.Arrows(ctx, tx)
		if err != nil {
			return res, err
		}
		merged := graph.New(append(stored, arrows...))
		if cycle := merged.Cycle(); cycle != nil {
			return res, violation(KindStructure, "loop found: %s", joinIDs(cycle))
		}
		if _, err := e.Repo.InsertArrows(ctx, tx, arrows); err != nil {
			return res, fmt.Errorf("insert arrows: %w", err)
		}
	}
	payload := events.EventPayload{"created": res.Created, "updated": res.Updated, "arrows": len(arrows)}
	if err := e.Events.Append(ctx, tx, "batch.committed", "task", "", actor.ID, payload); err != nil {
		return res, err
	}
	return res, nil
}

func optionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := repo.FormatTime(*t)
	return &s
}

func headOf(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

func slotTitles(b outline.Batch, slots []outline.Slot) string {
	parts := make([]string, len(slots))
	for i, s := range slots {
		parts[i] = headOf(b.Tasks[s].Title, 8)
	}
	return strings.Join(parts, " -> ")
}

func joinIDs(ids []domain.TaskID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, " -> ")
}
