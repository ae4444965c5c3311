package repo

import (
	"context"
	"database/sql"
	"errors"

	"blockline/internal/domain"
)

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.TZ, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

// InsertUser stores a user together with its self edit grant.
func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) (domain.UserID, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(name, tz, created_at) VALUES (?,?,?)`, u.Name, u.TZ, u.CreatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := r.SetPermission(ctx, tx, domain.UserID(id), domain.UserID(id), true); err != nil {
		return 0, err
	}
	return domain.UserID(id), nil
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id domain.UserID) (domain.User, error) {
	return scanUser(r.q(tx).QueryRowContext(ctx, `SELECT id,name,tz,created_at FROM users WHERE id=?`, int64(id)))
}

func (r Repo) GetUserByName(ctx context.Context, tx *sql.Tx, name string) (domain.User, error) {
	return scanUser(r.q(tx).QueryRowContext(ctx, `SELECT id,name,tz,created_at FROM users WHERE name=?`, name))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,tz,created_at FROM users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) UpdateUserTZ(ctx context.Context, tx *sql.Tx, id domain.UserID, tz string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE users SET tz=? WHERE id=?`, tz, int64(id))
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// SetPermission replaces subject's grant over object.
func (r Repo) SetPermission(ctx context.Context, tx *sql.Tx, subject, object domain.UserID, edit bool) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO permissions(subject, object, edit) VALUES (?,?,?)
ON CONFLICT(subject, object) DO UPDATE SET edit=excluded.edit`, int64(subject), int64(object), edit)
	return err
}

func (r Repo) RevokePermission(ctx context.Context, tx *sql.Tx, subject, object domain.UserID) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM permissions WHERE subject=? AND object=?`, int64(subject), int64(object))
	return err
}

// Permission reports whether subject holds any grant over object, and
// whether that grant allows editing.
func (r Repo) Permission(ctx context.Context, tx *sql.Tx, subject, object domain.UserID) (view, edit bool, err error) {
	err = r.q(tx).QueryRowContext(ctx, `SELECT edit FROM permissions WHERE subject=? AND object=?`, int64(subject), int64(object)).Scan(&edit)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, edit, nil
}

// PermissionNames lists the other users on one side of user's grants with
// the given edit flag. outgoing lists objects user holds grants over;
// otherwise it lists subjects holding grants over user.
func (r Repo) PermissionNames(ctx context.Context, tx *sql.Tx, user domain.UserID, edit, outgoing bool) ([]string, error) {
	query := `SELECT u.name FROM permissions p JOIN users u ON u.id=p.subject WHERE p.object=? AND p.subject<>p.object AND p.edit=? ORDER BY u.name`
	if outgoing {
		query = `SELECT u.name FROM permissions p JOIN users u ON u.id=p.object WHERE p.subject=? AND p.subject<>p.object AND p.edit=? ORDER BY u.name`
	}
	rows, err := r.q(tx).QueryContext(ctx, query, int64(user), edit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}
