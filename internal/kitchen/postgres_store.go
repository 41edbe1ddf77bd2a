package kitchen

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"chefai/internal/recipe"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store for PostgreSQL. List-shaped fields are kept
// in JSONB columns.
type PostgresStore struct {
	db *sqlx.DB
}

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS kitchen_sessions (
	id TEXT PRIMARY KEY,
	ingredients JSONB NOT NULL,
	plan TEXT NOT NULL,
	premium_entitled BOOLEAN NOT NULL DEFAULT FALSE,
	state JSONB NOT NULL,
	token BIGINT NOT NULL DEFAULT 0,
	upsell_open BOOLEAN NOT NULL DEFAULT FALSE,
	selected_recipe_id TEXT NOT NULL DEFAULT '',
	failed_images JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// sessionRow is the table shape of a Session.
type sessionRow struct {
	ID               string    `db:"id"`
	Ingredients      []byte    `db:"ingredients"`
	Plan             string    `db:"plan"`
	PremiumEntitled  bool      `db:"premium_entitled"`
	State            []byte    `db:"state"`
	Token            int64     `db:"token"`
	UpsellOpen       bool      `db:"upsell_open"`
	SelectedRecipeID string    `db:"selected_recipe_id"`
	FailedImages     []byte    `db:"failed_images"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// NewPostgresStore connects and creates the sessions table if needed.
func NewPostgresStore(dataSourceName string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return newPostgresStore(db)
}

func newPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	if _, err := db.Exec(sessionsSchema); err != nil {
		return nil, fmt.Errorf("failed to create kitchen_sessions table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Load retrieves a session by ID.
func (s *PostgresStore) Load(ctx context.Context, id string) (*Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT id, ingredients, plan, premium_entitled, state, token,
		upsell_open, selected_recipe_id, failed_images, created_at, updated_at
		FROM kitchen_sessions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sess := &Session{
		ID:               row.ID,
		Plan:             recipe.UserPlan(row.Plan),
		PremiumEntitled:  row.PremiumEntitled,
		Token:            row.Token,
		UpsellOpen:       row.UpsellOpen,
		SelectedRecipeID: row.SelectedRecipeID,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Ingredients, &sess.Ingredients); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ingredients: %w", err)
	}
	if err := json.Unmarshal(row.State, &sess.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if err := json.Unmarshal(row.FailedImages, &sess.FailedImages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed images: %w", err)
	}
	return sess, nil
}

// Save upserts a session.
func (s *PostgresStore) Save(ctx context.Context, session *Session) error {
	ingredientsJSON, err := json.Marshal(session.Ingredients)
	if err != nil {
		return fmt.Errorf("failed to marshal ingredients: %w", err)
	}
	stateJSON, err := json.Marshal(session.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	failedJSON, err := json.Marshal(session.FailedImages)
	if err != nil {
		return fmt.Errorf("failed to marshal failed images: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kitchen_sessions (id, ingredients, plan, premium_entitled, state, token,
			upsell_open, selected_recipe_id, failed_images, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET ingredients = $2, plan = $3, premium_entitled = $4, state = $5,
			token = $6, upsell_open = $7, selected_recipe_id = $8, failed_images = $9, updated_at = $11`,
		session.ID,
		ingredientsJSON,
		string(session.Plan),
		session.PremiumEntitled,
		stateJSON,
		session.Token,
		session.UpsellOpen,
		session.SelectedRecipeID,
		failedJSON,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
