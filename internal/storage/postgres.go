package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/deaddrop/pkg/models"
)

// PostgresStore is a DropStore backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection and returns a ready store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

const dropColumns = `id, owner_email, recipient_email, passphrase_hint, status,
	verify_token, checkin_token, checkin_interval_days, grace_days,
	last_checkin_at, release_at, last_checkin_sent_at,
	encrypted_payload_ref, payload_hash, created_at, verified_at, released_at`

func (p *PostgresStore) CreateDrop(ctx context.Context, d *models.Drop) error {
	hint := nullIfEmpty(d.PassphraseHint)
	_, err := p.pool.Exec(ctx,
		`INSERT INTO drops (`+dropColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		d.ID, d.OwnerEmail, d.RecipientEmail, hint, string(d.Status),
		d.VerifyToken, d.CheckinToken, d.CheckinIntervalDays, d.GraceDays,
		d.LastCheckinAt, d.ReleaseAt, d.LastCheckinSentAt,
		d.EncryptedPayloadRef, d.PayloadHash, d.CreatedAt, d.VerifiedAt, d.ReleasedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting drop: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetDrop(ctx context.Context, id string) (*models.Drop, error) {
	return p.getBy(ctx, "id", id)
}

func (p *PostgresStore) GetDropByVerifyToken(ctx context.Context, token string) (*models.Drop, error) {
	return p.getBy(ctx, "verify_token", token)
}

func (p *PostgresStore) GetDropByCheckinToken(ctx context.Context, token string) (*models.Drop, error) {
	return p.getBy(ctx, "checkin_token", token)
}

func (p *PostgresStore) getBy(ctx context.Context, column, value string) (*models.Drop, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+dropColumns+` FROM drops WHERE `+column+` = $1`, value)
	return scanDrop(row)
}

func (p *PostgresStore) ListActiveDrops(ctx context.Context) ([]*models.Drop, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+dropColumns+` FROM drops WHERE status = $1 ORDER BY release_at`,
		string(models.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("listing active drops: %w", err)
	}
	defer rows.Close()

	var drops []*models.Drop
	for rows.Next() {
		d, err := scanDrop(rows)
		if err != nil {
			return nil, err
		}
		drops = append(drops, d)
	}
	return drops, rows.Err()
}

func (p *PostgresStore) MarkVerified(ctx context.Context, id string, now, releaseAt time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE drops
		 SET status = $2, verified_at = $3, last_checkin_at = $3, release_at = $4
		 WHERE id = $1 AND status = $5`,
		id, string(models.StatusActive), now, releaseAt, string(models.StatusPendingVerification))
	if err != nil {
		return fmt.Errorf("marking drop verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) RecordCheckin(ctx context.Context, id string, now, releaseAt time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE drops
		 SET last_checkin_at = $2, release_at = $3, last_checkin_sent_at = NULL
		 WHERE id = $1 AND status = $4`,
		id, now, releaseAt, string(models.StatusActive))
	if err != nil {
		return fmt.Errorf("recording check-in: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) MarkReminderSent(ctx context.Context, id string, now time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE drops SET last_checkin_sent_at = $2 WHERE id = $1`,
		id, now)
	if err != nil {
		return fmt.Errorf("marking reminder sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseDrop commits the terminal transition only if the row is still
// ACTIVE. RowsAffected doubles as the compare-and-swap result: zero rows
// means another actor (a racing sweep or a concurrent check-in that won the
// row first) already moved it on.
func (p *PostgresStore) ReleaseDrop(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE drops SET status = $2, released_at = $3
		 WHERE id = $1 AND status = $4`,
		id, string(models.StatusReleased), now, string(models.StatusActive))
	if err != nil {
		return false, fmt.Errorf("releasing drop: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	rows, err := p.pool.Query(ctx, `SELECT status, COUNT(*) FROM drops GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting drops: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDrop(row rowScanner) (*models.Drop, error) {
	var d models.Drop
	var status string
	var hint *string
	err := row.Scan(
		&d.ID, &d.OwnerEmail, &d.RecipientEmail, &hint, &status,
		&d.VerifyToken, &d.CheckinToken, &d.CheckinIntervalDays, &d.GraceDays,
		&d.LastCheckinAt, &d.ReleaseAt, &d.LastCheckinSentAt,
		&d.EncryptedPayloadRef, &d.PayloadHash, &d.CreatedAt, &d.VerifiedAt, &d.ReleasedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning drop: %w", err)
	}
	d.Status = models.Status(strings.TrimSpace(status))
	if hint != nil {
		d.PassphraseHint = *hint
	}
	return &d, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
