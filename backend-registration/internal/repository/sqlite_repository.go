package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
	"github.com/prohmpiriya/campus-registration/pkg/database"
	"github.com/prohmpiriya/campus-registration/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Timestamps are stored as unix milliseconds; seq breaks ties.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// SQLiteEventRepository implements EventRepository on an embedded SQLite database
type SQLiteEventRepository struct {
	db *sql.DB
}

// NewSQLiteEventRepository creates a new SQLiteEventRepository
func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

// GetByID retrieves an event by its ID
func (r *SQLiteEventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.sqlite.event.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", id))

	var (
		event                        domain.Event
		start, end, created, updated int64
		maxParticipants              sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, organizer_id, start_date_time, end_date_time,
			max_participants, created_at, updated_at
		FROM events WHERE id = ?`, id,
	).Scan(&event.ID, &event.Title, &event.OrganizerID, &start, &end, &maxParticipants, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrEventNotFound
		}
		telemetry.RecordError(span, err, "get event")
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	event.StartDateTime = fromMillis(start)
	event.EndDateTime = fromMillis(end)
	event.CreatedAt = fromMillis(created)
	event.UpdatedAt = fromMillis(updated)
	if maxParticipants.Valid {
		limit := int(maxParticipants.Int64)
		event.MaxParticipants = &limit
	}
	return &event, nil
}

// Create inserts a new event
func (r *SQLiteEventRepository) Create(ctx context.Context, event *domain.Event) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.sqlite.event.create")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", event.ID))

	var maxParticipants sql.NullInt64
	if event.MaxParticipants != nil {
		maxParticipants = sql.NullInt64{Int64: int64(*event.MaxParticipants), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (
			id, title, organizer_id, start_date_time, end_date_time,
			max_participants, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Title,
		event.OrganizerID,
		toMillis(event.StartDateTime),
		toMillis(event.EndDateTime),
		maxParticipants,
		toMillis(event.CreatedAt),
		toMillis(event.UpdatedAt),
	)
	if err != nil {
		if database.IsSQLiteUniqueViolation(err) {
			span.SetStatus(codes.Error, "already exists")
			return domain.ErrEventAlreadyExists
		}
		telemetry.RecordError(span, err, "create event")
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// Delete removes an event
func (r *SQLiteEventRepository) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.sqlite.event.delete")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", id))

	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		telemetry.RecordError(span, err, "delete event")
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrEventNotFound
	}
	return nil
}

// eventFullClause is true when the event named by the bound id has a cap
// and every seat is taken. Admission writes embed it so the capacity check
// and the write are one statement, and SQLite runs a statement atomically.
const eventFullClause = `EXISTS (
	SELECT 1 FROM events e
	WHERE e.id = %s
		AND e.max_participants IS NOT NULL
		AND (SELECT COUNT(*) FROM registrations r
			WHERE r.event_id = e.id AND r.status = 'REGISTERED') >= e.max_participants
)`

// SQLiteRegistrationRepository implements RegistrationRepository on SQLite.
// The AUTOINCREMENT primary key doubles as the FIFO sequence.
type SQLiteRegistrationRepository struct {
	db *sql.DB
}

// NewSQLiteRegistrationRepository creates a new SQLiteRegistrationRepository
func NewSQLiteRegistrationRepository(db *sql.DB) *SQLiteRegistrationRepository {
	return &SQLiteRegistrationRepository{db: db}
}

// Insert stores a new registration and assigns its sequence
func (r *SQLiteRegistrationRepository) Insert(ctx context.Context, reg *domain.Registration) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.sqlite.registration.insert")
	defer span.End()

	span.SetAttributes(
		attribute.String("registration_id", reg.ID),
		attribute.String("event_id", reg.EventID),
		attribute.String("status", reg.Status.String()),
	)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO registrations (id, user_id, event_id, status, attended, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE ? <> 'REGISTERED' OR NOT `+fmt.Sprintf(eventFullClause, "?"),
		reg.ID,
		reg.UserID,
		reg.EventID,
		reg.Status.String(),
		reg.Attended,
		toMillis(reg.CreatedAt),
		toMillis(reg.UpdatedAt),
		reg.Status.String(),
		reg.EventID,
	)
	if err != nil {
		if database.IsSQLiteUniqueViolation(err) {
			span.SetStatus(codes.Error, "already registered")
			return domain.ErrAlreadyRegistered
		}
		telemetry.RecordError(span, err, "insert registration")
		return fmt.Errorf("failed to insert registration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		span.SetStatus(codes.Error, "event full")
		return domain.ErrEventFull
	}

	seq, err := res.LastInsertId()
	if err != nil {
		telemetry.RecordError(span, err, "read sequence")
		return fmt.Errorf("failed to read registration sequence: %w", err)
	}
	reg.Seq = seq
	return nil
}

// FindActiveByUserEvent returns the non-cancelled registration for the pair
func (r *SQLiteRegistrationRepository) FindActiveByUserEvent(ctx context.Context, userID, eventID string) (*domain.Registration, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.sqlite.registration.find_active")
	defer span.End()

	row := r.db.QueryRowContext(ctx, `SELECT `+registrationColumns+`
		FROM registrations
		WHERE user_id = ? AND event_id = ? AND status <> 'CANCELLED'`, userID, eventID)

	reg, err := scanSQLiteRegistration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrRegistrationNotFound
		}
		telemetry.RecordError(span, err, "find registration")
		return nil, fmt.Errorf("failed to find registration: %w", err)
	}
	return reg, nil
}

// CountByEventAndStatus counts registrations of an event in one status
func (r *SQLiteRegistrationRepository) CountByEventAndStatus(ctx context.Context, eventID string, status domain.RegistrationStatus) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.sqlite.registration.count_by_status")
	defer span.End()

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE event_id = ? AND status = ?`,
		eventID, status.String(),
	).Scan(&count)
	if err != nil {
		telemetry.RecordError(span, err, "count registrations")
		return 0, fmt.Errorf("failed to count registrations: %w", err)
	}
	return count, nil
}

// FindOldestWaitlisted returns the head of the event's waitlist
func (r *SQLiteRegistrationRepository) FindOldestWaitlisted(ctx context.Context, eventID string) (*domain.Registration, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.sqlite.registration.find_oldest_waitlisted")
	defer span.End()

	row := r.db.QueryRowContext(ctx, `SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = ? AND status = 'WAITLISTED'
		ORDER BY seq ASC
		LIMIT 1`, eventID)

	reg, err := scanSQLiteRegistration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRegistrationNotFound
		}
		telemetry.RecordError(span, err, "find oldest waitlisted")
		return nil, fmt.Errorf("failed to find oldest waitlisted: %w", err)
	}
	return reg, nil
}

// UpdateStatus changes the status only if the stored status is still from
func (r *SQLiteRegistrationRepository) UpdateStatus(ctx context.Context, id string, from, to domain.RegistrationStatus, updatedAt time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.sqlite.registration.update_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("registration_id", id),
		attribute.String("to", to.String()),
	)

	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
			AND (? <> 'REGISTERED' OR NOT `+fmt.Sprintf(eventFullClause, "registrations.event_id")+`)`,
		to.String(), toMillis(updatedAt), id, from.String(), to.String(),
	)
	if err != nil {
		if database.IsSQLiteUniqueViolation(err) {
			return domain.ErrAlreadyRegistered
		}
		telemetry.RecordError(span, err, "update status")
		return fmt.Errorf("failed to update registration status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.updateMiss(ctx, id, from, to)
	}
	return nil
}

// updateMiss explains why a status update changed no row
func (r *SQLiteRegistrationRepository) updateMiss(ctx context.Context, id string, from, to domain.RegistrationStatus) error {
	var current string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM registrations WHERE id = ?`, id).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrRegistrationNotFound
	case err != nil:
		return fmt.Errorf("failed to check registration: %w", err)
	case current == from.String() && to == domain.RegistrationStatusRegistered:
		return domain.ErrEventFull
	}
	return domain.ErrInvalidTransition
}

// SetAttended updates the attended flag of a REGISTERED registration
func (r *SQLiteRegistrationRepository) SetAttended(ctx context.Context, id string, attended bool, updatedAt time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.sqlite.registration.set_attended")
	defer span.End()

	res, err := r.db.ExecContext(ctx,
		`UPDATE registrations SET attended = ?, updated_at = ? WHERE id = ? AND status = 'REGISTERED'`,
		attended, toMillis(updatedAt), id,
	)
	if err != nil {
		telemetry.RecordError(span, err, "set attendance")
		return fmt.Errorf("failed to set attendance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missingOr(ctx, id, domain.ErrNotAdmitted)
	}
	return nil
}

// ListWaitlisted returns WAITLISTED registrations in promotion order
func (r *SQLiteRegistrationRepository) ListWaitlisted(ctx context.Context, eventID string) ([]*domain.Registration, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.sqlite.registration.list_waitlisted")
	defer span.End()

	rows, err := r.db.QueryContext(ctx, `SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = ? AND status = 'WAITLISTED'
		ORDER BY seq ASC`, eventID)
	if err != nil {
		telemetry.RecordError(span, err, "list waitlist")
		return nil, fmt.Errorf("failed to list waitlist: %w", err)
	}
	defer rows.Close()

	var waitlist []*domain.Registration
	for rows.Next() {
		reg, err := scanSQLiteRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		waitlist = append(waitlist, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate waitlist: %w", err)
	}
	return waitlist, nil
}

// DeleteByEvent removes every registration of an event
func (r *SQLiteRegistrationRepository) DeleteByEvent(ctx context.Context, eventID string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.sqlite.registration.delete_by_event")
	defer span.End()

	res, err := r.db.ExecContext(ctx, `DELETE FROM registrations WHERE event_id = ?`, eventID)
	if err != nil {
		telemetry.RecordError(span, err, "delete registrations")
		return 0, fmt.Errorf("failed to delete registrations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *SQLiteRegistrationRepository) missingOr(ctx context.Context, id string, otherwise error) error {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM registrations WHERE id = ?`, id).Scan(&count); err != nil {
		return fmt.Errorf("failed to check registration: %w", err)
	}
	if count == 0 {
		return domain.ErrRegistrationNotFound
	}
	return otherwise
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRegistration(row sqlScanner) (*domain.Registration, error) {
	var (
		reg              domain.Registration
		status           string
		created, updated int64
	)
	if err := row.Scan(&reg.ID, &reg.Seq, &reg.UserID, &reg.EventID, &status, &reg.Attended, &created, &updated); err != nil {
		return nil, err
	}
	reg.Status = domain.RegistrationStatus(status)
	reg.CreatedAt = fromMillis(created)
	reg.UpdatedAt = fromMillis(updated)
	return &reg, nil
}
