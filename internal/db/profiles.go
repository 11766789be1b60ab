package db

import (
	"context"
	"fmt"
	"time"

	"github.com/4xmen/karu/internal/models"
)

func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	return getDoc[models.User](ctx, db.conn, "SELECT doc FROM users WHERE id = ?", id)
}

func (db *DB) SaveUser(ctx context.Context, u *models.User) error {
	doc, err := encode(u)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO users (id, doc) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET doc = excluded.doc",
		u.ID, doc,
	)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (db *DB) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	return getDoc[models.Profile](ctx, db.conn, "SELECT doc FROM profiles WHERE user_id = ?", userID)
}

func (db *DB) GetProfileByUsername(ctx context.Context, username string) (*models.Profile, error) {
	return getDoc[models.Profile](ctx, db.conn, "SELECT doc FROM profiles WHERE username = ?", username)
}

func (db *DB) SaveProfile(ctx context.Context, p *models.Profile) error {
	doc, err := encode(p)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO profiles (user_id, username, doc) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET username = excluded.username, doc = excluded.doc`,
		p.UserID, p.Username, doc,
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (db *DB) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE profiles SET doc = json_set(doc, '$.last_seen_at', ?) WHERE user_id = ?",
		at.UTC().Format(time.RFC3339Nano), userID,
	)
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return requireAffected(res)
}

func (db *DB) SetLastLocation(ctx context.Context, userID string, loc *models.Location) error {
	raw, err := encode(loc)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx,
		"UPDATE profiles SET doc = json_set(doc, '$.last_location', json(?)) WHERE user_id = ?",
		raw, userID,
	)
	if err != nil {
		return fmt.Errorf("set last location: %w", err)
	}
	return requireAffected(res)
}
