package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"blockline/internal/config"
	"blockline/internal/domain"
	"blockline/internal/engine/auth"
	"blockline/internal/events"
	"blockline/internal/graph"
	"blockline/internal/outline"
	"blockline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Auth   auth.Service
	Events events.Writer
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Auth:   auth.Service{Repo: r},
		Events: events.Writer{},
		Config: cfg,
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return repo.FormatTime(e.now())
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) observe(op string, start time.Time) {
	opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// completeDirection is where completion cascades; reverting goes the other way.
func (e Engine) completeDirection() graph.Direction {
	if e.Config != nil && e.Config.Propagation.Complete == config.CompleteTowardSources {
		return graph.ToSources
	}
	return graph.ToTargets
}

// actor resolves a user name. An unknown actor is forbidden rather than not found.
func (e Engine) actor(ctx context.Context, tx *sql.Tx, name string) (domain.User, error) {
	if strings.TrimSpace(name) == "" {
		return domain.User{}, auth.ForbiddenError{Permission: "user"}
	}
	u, err := e.Repo.GetUserByName(ctx, tx, name)
	if errors.Is(err, repo.ErrNotFound) {
		return u, auth.ForbiddenError{Subject: "@" + name, Permission: "user"}
	}
	return u, err
}

func (e Engine) zone(u domain.User) (outline.Zone, error) {
	return outline.NewZone(u.TZ, e.now)
}

// CreateUser registers a user who can edit their own tasks.
func (e Engine) CreateUser(ctx context.Context, name, tz string) (domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t@#") {
		return domain.User{}, violation(KindMalformed, "%q is not a valid user name", name)
	}
	if tz == "" {
		tz = "UTC"
	}
	if _, err := outline.NewZone(tz, nil); err != nil {
		return domain.User{}, violation(KindMalformed, "%v", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetUserByName(ctx, tx, name); err == nil {
		return domain.User{}, violation(KindStructure, "username already in use: %s", name)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	u := domain.User{Name: name, TZ: tz, CreatedAt: e.stamp()}
	if u.ID, err = e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "user.created", "user", name, u.ID, events.EventPayload{"tz": tz}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// EnsureUser returns the named user, creating it when absent.
func (e Engine) EnsureUser(ctx context.Context, name, tz string) (domain.User, error) {
	u, err := e.Repo.GetUserByName(ctx, nil, name)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return u, err
	}
	return e.CreateUser(ctx, name, tz)
}

func (e Engine) SetTimezone(ctx context.Context, actorName, tz string) (domain.User, error) {
	if _, err := outline.NewZone(tz, nil); err != nil {
		return domain.User{}, violation(KindMalformed, "%v", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	u, err := e.actor(ctx, tx, actorName)
	if err != nil {
		return u, err
	}
	if err := e.Repo.UpdateUserTZ(ctx, tx, u.ID, tz); err != nil {
		return u, err
	}
	u.TZ = tz
	return u, tx.Commit()
}

// UserInfo describes the actor and the grants around them.
func (e Engine) UserInfo(ctx context.Context, actorName string) (domain.UserInfo, error) {
	u, err := e.actor(ctx, nil, actorName)
	if err != nil {
		return domain.UserInfo{}, err
	}
	info := domain.UserInfo{Name: u.Name, Since: u.CreatedAt, TZ: u.TZ}
	if info.Executed, err = e.Repo.CountArchived(ctx, nil, u.ID); err != nil {
		return info, err
	}
	lists := []struct {
		dst      *[]string
		edit     bool
		outgoing bool
	}{
		{&info.ViewTo, false, false},
		{&info.EditTo, true, false},
		{&info.ViewFrom, false, true},
		{&info.EditFrom, true, true},
	}
	for _, l := range lists {
		if *l.dst, err = e.Repo.PermissionNames(ctx, nil, u.ID, l.edit, l.outgoing); err != nil {
			return info, err
		}
	}
	return info, nil
}

// Grant sets what userName may do with the actor's tasks: view, edit, or
// nothing when edit is nil.
func (e Engine) Grant(ctx context.Context, actorName, userName string, edit *bool) (domain.Permission, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Permission{}, err
	}
	defer tx.Rollback()

	owner, err := e.actor(ctx, tx, actorName)
	if err != nil {
		return domain.Permission{}, err
	}
	subject, err := e.Repo.GetUserByName(ctx, tx, userName)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Permission{}, violation(KindStructure, "%s: user not found", userName)
	}
	if err != nil {
		return domain.Permission{}, err
	}
	if subject.ID == owner.ID {
		return domain.Permission{}, violation(KindStructure, "cannot change your own permission")
	}
	perm := domain.Permission{Subject: subject.Name, Object: owner.Name}
	payload := events.EventPayload{"subject": subject.Name}
	if edit == nil {
		err = e.Repo.RevokePermission(ctx, tx, subject.ID, owner.ID)
		payload["revoked"] = true
	} else {
		perm.Edit = *edit
		err = e.Repo.SetPermission(ctx, tx, subject.ID, owner.ID, *edit)
		payload["edit"] = *edit
	}
	if err != nil {
		return perm, err
	}
	if err := e.Events.Append(ctx, tx, "permission.set", "user", owner.Name, owner.ID, payload); err != nil {
		return perm, err
	}
	return perm, tx.Commit()
}

// CreateAPIKey issues a key for the actor and returns the plain secret once.
func (e Engine) CreateAPIKey(ctx context.Context, actorName, name string) (domain.APIKey, string, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	u, err := e.actor(ctx, tx, actorName)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "bl_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Events.Append(ctx, tx, "apikey.created", "api_key", key.ID, u.ID, events.EventPayload{"name": name}); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, tx.Commit()
}

// APIKeys lists the actor's keys without their secrets.
func (e Engine) APIKeys(ctx context.Context, actorName string) ([]domain.APIKey, error) {
	u, err := e.actor(ctx, nil, actorName)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, u.ID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, actorName, id string) error {
	u, err := e.actor(ctx, nil, actorName)
	if err != nil {
		return err
	}
	return e.Repo.DeleteAPIKey(ctx, u.ID, id)
}

// UserForAPIKey resolves a plain API key to its owner.
func (e Engine) UserForAPIKey(ctx context.Context, secret string) (domain.User, error) {
	key, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(secret))
	if err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, nil, key.UserID)
}

// ListEvents lists the latest events the actor caused, newest first.
func (e Engine) ListEvents(ctx context.Context, actorName string, f repo.EventFilter) ([]domain.Event, error) {
	u, err := e.actor(ctx, nil, actorName)
	if err != nil {
		return nil, err
	}
	f.ActorID = u.ID
	return e.Repo.LatestEvents(ctx, f)
}
