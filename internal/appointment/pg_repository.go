package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx, so the same
// repository can run standalone or inside a caller-owned transaction (the
// payment orchestrator confirms appointments inside its own unit of work).
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	q Querier
}

func NewPgRepository(q Querier) *PgRepository {
	return &PgRepository{q: q}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var instagram *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.CountryCode,
		&d.Currency,
		&instagram,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.InstagramAccountID = instagram
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var senderID *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Phone,
		&senderID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.InstagramSenderID = senderID
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var patientID *uuid.UUID
	var notes *string

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&patientID,
		&a.PatientName,
		&a.PatientPhone,
		&a.StartsAt,
		&a.EndsAt,
		&a.Status,
		&notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.PatientID = patientID
	a.Notes = notes
	return &a, nil
}

const appointmentColumns = `id, doctor_id, patient_id, patient_name, patient_phone, starts_at, ends_at, status, notes, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, country_code, currency, instagram_account_id, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByInstagramSender(ctx context.Context, senderID string) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, phone, instagram_sender_id, created_at, updated_at
		FROM patients
		WHERE instagram_sender_id = $1
	`, senderID)
	return scanPatient(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY starts_at DESC
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CountActiveOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND starts_at < $3
		  AND ends_at > $2
	`, doctorID, start, end).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PgRepository) CreatePendingAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	id := uuid.New()

	row := r.q.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, patient_name, patient_phone, starts_at, ends_at, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, a.DoctorID, a.PatientID, a.PatientName, a.PatientPhone, a.StartsAt, a.EndsAt, a.Notes)

	return scanAppointment(row)
}

// UpdateAppointmentStatus moves an appointment to a new status only if its
// current status is one of from. ErrAppointmentNotFound is returned when the
// row exists but the guard does not match, so callers re-read to distinguish.
func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) (*Appointment, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentColumns+`
	`, id, to, fromStrs)

	return scanAppointment(row)
}

func (r *PgRepository) FindStalePending(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND created_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
