package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"blockline/internal/domain"
)

func (r Repo) InsertDeletionToken(ctx context.Context, tx *sql.Tx, tok domain.DeletionToken) error {
	data, err := json.Marshal(tok.Tasks)
	if err != nil {
		return fmt.Errorf("marshal token tasks: %w", err)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO deletion_tokens(id, user_id, task_ids, expires_at) VALUES (?,?,?,?)`,
		tok.ID, int64(tok.UserID), string(data), tok.ExpiresAt)
	return err
}

// TakeDeletionToken reads and removes a token so it cannot be used twice.
func (r Repo) TakeDeletionToken(ctx context.Context, tx *sql.Tx, id string) (domain.DeletionToken, error) {
	var tok domain.DeletionToken
	var raw string
	err := r.q(tx).QueryRowContext(ctx, `SELECT id, user_id, task_ids, expires_at FROM deletion_tokens WHERE id=?`, id).
		Scan(&tok.ID, &tok.UserID, &raw, &tok.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tok, ErrNotFound
	}
	if err != nil {
		return tok, err
	}
	if err := json.Unmarshal([]byte(raw), &tok.Tasks); err != nil {
		return tok, fmt.Errorf("decode token tasks: %w", err)
	}
	if _, err := r.q(tx).ExecContext(ctx, `DELETE FROM deletion_tokens WHERE id=?`, id); err != nil {
		return tok, err
	}
	return tok, nil
}

// PurgeDeletionTokens drops tokens that expired before now.
func (r Repo) PurgeDeletionTokens(ctx context.Context, tx *sql.Tx, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM deletion_tokens WHERE expires_at < ?`, now)
	return err
}
