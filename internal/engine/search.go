package engine

import (
	"context"
	"regexp"
	"time"

	"blockline/internal/domain"
	"blockline/internal/graph"
	"blockline/internal/outline"
	"blockline/internal/repo"
)

// Search returns the visible tasks matching c, starred first then most
// recently updated, cut at the configured limit.
func (e Engine) Search(ctx context.Context, actorName string, c outline.Condition) ([]domain.Task, error) {
	defer e.observe("search", time.Now())
	if err := c.Check(); err != nil {
		return nil, err
	}
	actor, err := e.actor(ctx, nil, actorName)
	if err != nil {
		return nil, err
	}
	zone, err := e.zone(actor)
	if err != nil {
		return nil, err
	}
	f, err := sqlFilter(c, zone)
	if err != nil {
		return nil, err
	}

	var idx *graph.Index[domain.TaskID]
	if c.Leaf != nil || c.Root != nil || c.Context != nil {
		arrows, err := e.Repo.Arrows(ctx, nil)
		if err != nil {
			return nil, err
		}
		idx = graph.New(arrows)
	}
	if c.Context != nil {
		dir := graph.ToTargets
		if c.Context.Direction == "sources" {
			dir = graph.ToSources
		}
		f.IDs = idx.Reachable(c.Context.ID, dir)
	}

	tasks, err := e.Repo.ListVisibleTasks(ctx, nil, actor.ID, f)
	if err != nil {
		return nil, err
	}
	keep, err := postFilter(c, idx)
	if err != nil {
		return nil, err
	}
	limit := e.Config.Search.Limit
	out := make([]domain.Task, 0, min(len(tasks), limit))
	for _, t := range tasks {
		if len(out) == limit {
			break
		}
		if keep(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func sqlFilter(c outline.Condition, loc outline.Localizer) (repo.TaskFilter, error) {
	f := repo.TaskFilter{
		Archived:  c.Archived,
		Starred:   c.Starred,
		WeightMin: c.Weight.Min,
		WeightMax: c.Weight.Max,
	}
	for _, r := range []struct {
		field    string
		rng      outline.TimeRange
		from, to *string
	}{
		{"startable", c.Startable, &f.StartableFrom, &f.StartableTo},
		{"deadline", c.Deadline, &f.DeadlineFrom, &f.DeadlineTo},
		{"created_at", c.CreatedAt, &f.CreatedFrom, &f.CreatedTo},
		{"updated_at", c.UpdatedAt, &f.UpdatedFrom, &f.UpdatedTo},
	} {
		for _, side := range []struct {
			lit string
			dst *string
		}{{r.rng.From, r.from}, {r.rng.To, r.to}} {
			if side.lit == "" {
				continue
			}
			d, err := outline.ParseDate(side.lit)
			if err != nil {
				return f, &outline.ParseError{Field: r.field, Msg: err.Error()}
			}
			t, err := loc.Globalize(d)
			if err != nil {
				return f, &outline.ParseError{Field: r.field, Msg: err.Error()}
			}
			*side.dst = repo.FormatTime(t)
		}
	}
	if c.Title != nil && c.Title.Regex == "" {
		f.TitleWords = c.Title.Words
	}
	if c.Assign != nil && c.Assign.Regex == "" {
		f.AssignWords = c.Assign.Words
	}
	if c.Link != nil && c.Link.Regex == "" {
		f.LinkWords = c.Link.Words
	}
	return f, nil
}

// postFilter covers what SQL does not: regular expressions and graph shape.
func postFilter(c outline.Condition, idx *graph.Index[domain.TaskID]) (func(domain.Task) bool, error) {
	var checks []func(domain.Task) bool
	for _, ex := range []struct {
		expr *outline.Expression
		get  func(domain.Task) string
	}{
		{c.Title, func(t domain.Task) string { return t.Title }},
		{c.Assign, func(t domain.Task) string { return t.Assign }},
		{c.Link, func(t domain.Task) string {
			if t.Link == nil {
				return ""
			}
			return *t.Link
		}},
	} {
		if ex.expr == nil || ex.expr.Regex == "" {
			continue
		}
		re, err := regexp.Compile(ex.expr.Regex)
		if err != nil {
			return nil, err
		}
		get := ex.get
		checks = append(checks, func(t domain.Task) bool { return re.MatchString(get(t)) })
	}
	if c.Leaf != nil {
		want := *c.Leaf
		checks = append(checks, func(t domain.Task) bool { return idx.IsLeaf(t.ID) == want })
	}
	if c.Root != nil {
		want := *c.Root
		checks = append(checks, func(t domain.Task) bool { return idx.IsRoot(t.ID) == want })
	}
	return func(t domain.Task) bool {
		for _, ok := range checks {
			if !ok(t) {
				return false
			}
		}
		return true
	}, nil
}
