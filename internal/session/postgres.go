package session

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vanakhel/server/internal/model"
)

type postgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo creates a Repo backed by the sessions table.
func NewPostgresRepo(db *sql.DB) Repo {
	return &postgresRepo{db: db}
}

// Save upserts the session record; a user has at most one row.
func (r *postgresRepo) Save(ctx context.Context, rec model.SessionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, name, email, token, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    token = EXCLUDED.token,
		    created_at = EXCLUDED.created_at
	`, rec.UserID, rec.Name, rec.Email, rec.Token, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

// GetByUserID returns the user's session record, or ErrNotFound.
func (r *postgresRepo) GetByUserID(ctx context.Context, userID string) (model.SessionRecord, error) {
	var rec model.SessionRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, name, email, token, created_at
		FROM sessions
		WHERE user_id = $1
	`, userID).Scan(&rec.UserID, &rec.Name, &rec.Email, &rec.Token, &rec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.SessionRecord{}, ErrNotFound
		}
		return model.SessionRecord{}, fmt.Errorf("query session record: %w", err)
	}
	return rec, nil
}

// Delete removes the user's session record. Deleting a missing row is not
// an error.
func (r *postgresRepo) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}
