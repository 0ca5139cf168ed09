package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
	"github.com/prohmpiriya/campus-registration/pkg/database"
	"github.com/prohmpiriya/campus-registration/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const registrationColumns = `id, seq, user_id, event_id, status, attended, created_at, updated_at`

// PostgresRegistrationRepository implements RegistrationRepository using PostgreSQL with pgxpool.
// Writes that admit a registrant lock the event row and re-check capacity
// in the same transaction, so maxParticipants holds even when two
// replicas both believe they own the event lock.
type PostgresRegistrationRepository struct {
	pool *pgxpool.Pool
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresRegistrationRepository creates a new PostgresRegistrationRepository
func NewPostgresRegistrationRepository(pool *pgxpool.Pool) *PostgresRegistrationRepository {
	return &PostgresRegistrationRepository{pool: pool}
}

// Insert creates a new registration record and assigns its sequence
func (r *PostgresRegistrationRepository) Insert(ctx context.Context, reg *domain.Registration) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.registration.insert")
	defer span.End()

	span.SetAttributes(
		attribute.String("registration_id", reg.ID),
		attribute.String("user_id", reg.UserID),
		attribute.String("event_id", reg.EventID),
		attribute.String("status", reg.Status.String()),
	)

	if !reg.IsRegistered() {
		if err := insertRegistration(ctx, r.pool, reg); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := claimSeat(ctx, tx, reg.EventID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := insertRegistration(ctx, tx, reg); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func insertRegistration(ctx context.Context, q pgQuerier, reg *domain.Registration) error {
	query := `
		INSERT INTO registrations (id, user_id, event_id, status, attended, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`

	err := q.QueryRow(ctx, query,
		reg.ID,
		reg.UserID,
		reg.EventID,
		reg.Status.String(),
		reg.Attended,
		reg.CreatedAt,
		reg.UpdatedAt,
	).Scan(&reg.Seq)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrAlreadyRegistered
		}
		return fmt.Errorf("failed to insert registration: %w", err)
	}
	return nil
}

// claimSeat locks the event row for the rest of tx and fails with
// domain.ErrEventFull when every seat is taken. FOR NO KEY UPDATE
// serializes admission writers without blocking the foreign key checks of
// plain waitlist inserts.
func claimSeat(ctx context.Context, tx pgx.Tx, eventID string) error {
	var maxParticipants *int
	err := tx.QueryRow(ctx,
		`SELECT max_participants FROM events WHERE id = $1 FOR NO KEY UPDATE`,
		eventID,
	).Scan(&maxParticipants)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrEventNotFound
		}
		return fmt.Errorf("failed to lock event: %w", err)
	}
	if maxParticipants == nil {
		return nil
	}

	var registered int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = 'REGISTERED'`,
		eventID,
	).Scan(&registered)
	if err != nil {
		return fmt.Errorf("failed to count registrations: %w", err)
	}
	if registered >= *maxParticipants {
		return domain.ErrEventFull
	}
	return nil
}

// FindActiveByUserEvent returns the non-cancelled registration for the pair
func (r *PostgresRegistrationRepository) FindActiveByUserEvent(ctx context.Context, userID, eventID string) (*domain.Registration, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.registration.find_active")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", eventID),
	)

	query := `SELECT ` + registrationColumns + `
		FROM registrations
		WHERE user_id = $1 AND event_id = $2 AND status <> 'CANCELLED'
	`

	reg, err := scanRegistration(r.pool.QueryRow(ctx, query, userID, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrRegistrationNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to find registration: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return reg, nil
}

// CountByEventAndStatus counts registrations of an event in one status
func (r *PostgresRegistrationRepository) CountByEventAndStatus(ctx context.Context, eventID string, status domain.RegistrationStatus) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.registration.count_by_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.String("status", status.String()),
	)

	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = $2`,
		eventID, status.String(),
	).Scan(&count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to count registrations: %w", err)
	}

	span.SetAttributes(attribute.Int("count", count))
	span.SetStatus(codes.Ok, "")
	return count, nil
}

// FindOldestWaitlisted returns the head of the event's waitlist
func (r *PostgresRegistrationRepository) FindOldestWaitlisted(ctx context.Context, eventID string) (*domain.Registration, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.registration.find_oldest_waitlisted")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	query := `SELECT ` + registrationColumns + `
		FROM registrations
		WHERE event_id = $1 AND status = 'WAITLISTED'
		ORDER BY seq ASC
		LIMIT 1
	`

	reg, err := scanRegistration(r.pool.QueryRow(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Ok, "empty waitlist")
			return nil, domain.ErrRegistrationNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to find oldest waitlisted: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return reg, nil
}

// UpdateStatus changes the status only if the stored status is still from
func (r *PostgresRegistrationRepository) UpdateStatus(ctx context.Context, id string, from, to domain.RegistrationStatus, updatedAt time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.registration.update_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("registration_id", id),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	)

	if to != domain.RegistrationStatusRegistered {
		if err := r.updateStatus(ctx, r.pool, id, from, to, updatedAt); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var eventID, current string
	err = tx.QueryRow(ctx, `SELECT event_id, status FROM registrations WHERE id = $1`, id).Scan(&eventID, &current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return domain.ErrRegistrationNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to find registration: %w", err)
	}
	if current != from.String() {
		span.SetStatus(codes.Error, "invalid transition")
		return domain.ErrInvalidTransition
	}
	if err := claimSeat(ctx, tx, eventID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := r.updateStatus(ctx, tx, id, from, to, updatedAt); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *PostgresRegistrationRepository) updateStatus(ctx context.Context, q pgQuerier, id string, from, to domain.RegistrationStatus, updatedAt time.Time) error {
	query := `
		UPDATE registrations
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`

	tag, err := q.Exec(ctx, query, id, from.String(), to.String(), updatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrAlreadyRegistered
		}
		return fmt.Errorf("failed to update registration status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgMissingOr(ctx, q, id, domain.ErrInvalidTransition)
	}
	return nil
}

// SetAttended updates the attended flag of a REGISTERED registration
func (r *PostgresRegistrationRepository) SetAttended(ctx context.Context, id string, attended bool, updatedAt time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.registration.set_attended")
	defer span.End()

	span.SetAttributes(
		attribute.String("registration_id", id),
		attribute.Bool("attended", attended),
	)

	query := `
		UPDATE registrations
		SET attended = $2, updated_at = $3
		WHERE id = $1 AND status = 'REGISTERED'
	`

	tag, err := r.pool.Exec(ctx, query, id, attended, updatedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to set attendance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = pgMissingOr(ctx, r.pool, id, domain.ErrNotAdmitted)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ListWaitlisted returns WAITLISTED registrations in promotion order
func (r *PostgresRegistrationRepository) ListWaitlisted(ctx context.Context, eventID string) ([]*domain.Registration, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.registration.list_waitlisted")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	query := `SELECT ` + registrationColumns + `
		FROM registrations
		WHERE event_id = $1 AND status = 'WAITLISTED'
		ORDER BY seq ASC
	`

	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list waitlist: %w", err)
	}
	defer rows.Close()

	var waitlist []*domain.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		waitlist = append(waitlist, reg)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate waitlist: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(waitlist)))
	span.SetStatus(codes.Ok, "")
	return waitlist, nil
}

// DeleteByEvent removes every registration of an event
func (r *PostgresRegistrationRepository) DeleteByEvent(ctx context.Context, eventID string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.registration.delete_by_event")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	tag, err := r.pool.Exec(ctx, `DELETE FROM registrations WHERE event_id = $1`, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to delete registrations: %w", err)
	}

	span.SetAttributes(attribute.Int64("deleted", tag.RowsAffected()))
	span.SetStatus(codes.Ok, "")
	return tag.RowsAffected(), nil
}

// pgMissingOr distinguishes an unknown id from a row in the wrong status
func pgMissingOr(ctx context.Context, q pgQuerier, id string, otherwise error) error {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM registrations WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check registration: %w", err)
	}
	if !exists {
		return domain.ErrRegistrationNotFound
	}
	return otherwise
}

func scanRegistration(row pgx.Row) (*domain.Registration, error) {
	reg := &domain.Registration{}
	var status string
	err := row.Scan(
		&reg.ID,
		&reg.Seq,
		&reg.UserID,
		&reg.EventID,
		&status,
		&reg.Attended,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	reg.Status = domain.RegistrationStatus(status)
	return reg, nil
}
