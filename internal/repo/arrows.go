package repo

import (
	"context"
	"database/sql"

	"blockline/internal/domain"
	"blockline/internal/graph"
)

// Arrows loads the whole persisted graph.
func (r Repo) Arrows(ctx context.Context, tx *sql.Tx) ([]graph.Arrow[domain.TaskID], error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT source, target FROM arrows ORDER BY source, target`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []graph.Arrow[domain.TaskID]
	for rows.Next() {
		var a graph.Arrow[domain.TaskID]
		if err := rows.Scan(&a.Source, &a.Target); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// InsertArrows stores arrows, ignoring ones already present. It returns how
// many were new.
func (r Repo) InsertArrows(ctx context.Context, tx *sql.Tx, arrows []graph.Arrow[domain.TaskID]) (int64, error) {
	var n int64
	for _, a := range arrows {
		res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO arrows(source, target) VALUES (?,?)`, int64(a.Source), int64(a.Target))
		if err != nil {
			return n, err
		}
		c, _ := res.RowsAffected()
		n += c
	}
	return n, nil
}
