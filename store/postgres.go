package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"presence-backend/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	location_label TEXT NOT NULL DEFAULT '',
	latitude       DOUBLE PRECISION,
	longitude      DOUBLE PRECISION,
	radius_meters  DOUBLE PRECISION,
	image_url      TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS checkins (
	id             UUID PRIMARY KEY,
	user_id        TEXT NOT NULL,
	event_id       TEXT NOT NULL,
	wallet_address TEXT NOT NULL,
	token_id       TEXT NOT NULL,
	tx_ref         TEXT NOT NULL,
	checked_in_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT checkins_user_event_key UNIQUE (user_id, event_id),
	CONSTRAINT checkins_token_id_key UNIQUE (token_id),
	CONSTRAINT checkins_tx_ref_key UNIQUE (tx_ref)
);

CREATE INDEX IF NOT EXISTS checkins_event_id_idx ON checkins (event_id, checked_in_at DESC);
CREATE INDEX IF NOT EXISTS checkins_user_id_idx ON checkins (user_id, checked_in_at DESC);
`

const checkinColumns = `
	c.id, c.user_id, c.event_id, c.wallet_address, c.token_id, c.tx_ref, c.checked_in_at, c.created_at,
	COALESCE(e.name, ''), COALESCE(e.image_url, '')
`

// Postgres implements CheckInStore and EventStore on a pgx pool
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the tables and unique constraints if they are missing
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func scanCheckIn(row pgx.Row) (*models.CheckIn, error) {
	var c models.CheckIn
	var id uuid.UUID
	err := row.Scan(
		&id,
		&c.UserID,
		&c.EventID,
		&c.WalletAddress,
		&c.TokenID,
		&c.TxRef,
		&c.CheckedInAt,
		&c.CreatedAt,
		&c.EventName,
		&c.EventImage,
	)
	if err != nil {
		return nil, err
	}
	c.ID = id.String()
	return &c, nil
}

func (s *Postgres) GetCheckIn(ctx context.Context, userID, eventID string) (*models.CheckIn, error) {
	query := `SELECT ` + checkinColumns + `
		FROM checkins c LEFT JOIN events e ON e.id = c.event_id
		WHERE c.user_id = $1 AND c.event_id = $2`

	rec, err := scanCheckIn(s.db.QueryRow(ctx, query, userID, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get check-in: %w", err)
	}
	return rec, nil
}

func (s *Postgres) CreateCheckIn(ctx context.Context, c models.CheckIn) (*models.CheckIn, bool, error) {
	id := uuid.New()
	if c.CheckedInAt.IsZero() {
		c.CheckedInAt = time.Now().UTC()
	}

	insertQuery := `
		INSERT INTO checkins (id, user_id, event_id, wallet_address, token_id, tx_ref, checked_in_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING id
	`
	var inserted uuid.UUID
	err := s.db.QueryRow(ctx, insertQuery, id, c.UserID, c.EventID, c.WalletAddress, c.TokenID, c.TxRef, c.CheckedInAt).Scan(&inserted)
	if err == nil {
		rec, err := s.GetCheckIn(ctx, c.UserID, c.EventID)
		if err != nil {
			return nil, false, err
		}
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert check-in: %w", err)
	}

	// a unique constraint held; find out which one
	existing, err := s.GetCheckIn(ctx, c.UserID, c.EventID)
	switch {
	case err == nil:
		if existing.SameMint(c) {
			return existing, false, nil
		}
		return nil, false, &ConflictError{Field: ConflictUserEvent, Existing: existing}
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	var field string
	err = s.db.QueryRow(ctx, `
		SELECT CASE WHEN token_id = $1 THEN 'token_id' ELSE 'tx_ref' END
		FROM checkins WHERE token_id = $1 OR tx_ref = $2 LIMIT 1`, c.TokenID, c.TxRef).Scan(&field)
	if errors.Is(err, pgx.ErrNoRows) {
		// the conflicting row went away between statements
		return nil, false, fmt.Errorf("failed to insert check-in: conflicting row vanished")
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve check-in conflict: %w", err)
	}
	return nil, false, &ConflictError{Field: field}
}

func (s *Postgres) ListByUser(ctx context.Context, userID string, page Page) ([]models.CheckIn, int, error) {
	return s.list(ctx, "c.user_id", userID, page)
}

func (s *Postgres) ListByEvent(ctx context.Context, eventID string, page Page) ([]models.CheckIn, int, error) {
	return s.list(ctx, "c.event_id", eventID, page)
}

// list pages through check-ins filtered on column, which must be a constant
func (s *Postgres) list(ctx context.Context, column, value string, page Page) ([]models.CheckIn, int, error) {
	page = page.Normalize()

	var total int
	err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM checkins c WHERE "+column+" = $1", value).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count check-ins: %w", err)
	}

	query := `SELECT ` + checkinColumns + `
		FROM checkins c LEFT JOIN events e ON e.id = c.event_id
		WHERE ` + column + ` = $1
		ORDER BY c.checked_in_at DESC, c.id
		LIMIT $2 OFFSET $3`

	rows, err := s.db.Query(ctx, query, value, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list check-ins: %w", err)
	}
	defer rows.Close()

	checkins := []models.CheckIn{}
	for rows.Next() {
		rec, err := scanCheckIn(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan check-in: %w", err)
		}
		checkins = append(checkins, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list check-ins: %w", err)
	}
	return checkins, total, nil
}

func (s *Postgres) CreateEvent(ctx context.Context, e models.Event) (*models.Event, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	query := `
		INSERT INTO events (id, name, description, location_label, latitude, longitude, radius_meters, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRow(ctx, query,
		e.ID, e.Name, e.Description, e.LocationLabel, e.Latitude, e.Longitude, e.RadiusMeters, e.ImageURL,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, &ConflictError{Field: ConflictEventID}
		}
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return &e, nil
}

func (s *Postgres) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	query := `
		SELECT id, name, description, location_label, latitude, longitude, radius_meters, image_url, created_at, updated_at
		FROM events WHERE id = $1
	`
	var e models.Event
	err := s.db.QueryRow(ctx, query, id).Scan(
		&e.ID,
		&e.Name,
		&e.Description,
		&e.LocationLabel,
		&e.Latitude,
		&e.Longitude,
		&e.RadiusMeters,
		&e.ImageURL,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &e, nil
}
