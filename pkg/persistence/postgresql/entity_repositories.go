package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// PatientRepository provides read-only patient lookups. Patient CRUD is
// owned by an external system; the engine only reads.
type PatientRepository struct {
	db *sql.DB
}

// ByID retrieves a patient.
func (r *PatientRepository) ByID(ctx context.Context, id string) (*models.Patient, error) {
	query := `SELECT id, name, phone, email, birth_date, attributes FROM patients WHERE id = $1`

	var (
		patient        models.Patient
		phone, email   sql.NullString
		birthDate      sql.NullTime
		attributesJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&patient.ID,
		&patient.Name,
		&phone,
		&email,
		&birthDate,
		&attributesJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrPatientNotFound
		}

		return nil, persistence.NewStoreError("PatientByID", id, err)
	}

	patient.Phone = phone.String
	patient.Email = email.String

	if birthDate.Valid {
		patient.BirthDate = &birthDate.Time
	}

	if err := json.Unmarshal(attributesJSON, &patient.Attributes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal patient attributes: %w", err)
	}

	return &patient, nil
}

// AppointmentRepository provides read-only appointment lookups.
type AppointmentRepository struct {
	db *sql.DB
}

// ByID retrieves an appointment.
func (r *AppointmentRepository) ByID(ctx context.Context, id string) (*models.Appointment, error) {
	query := `SELECT id, patient_id, type, provider, scheduled_at, status FROM appointments WHERE id = $1`

	var (
		appointment              models.Appointment
		apptType, provider, stat sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&appointment.ID,
		&appointment.PatientID,
		&apptType,
		&provider,
		&appointment.ScheduledAt,
		&stat,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrAppointmentNotFound
		}

		return nil, persistence.NewStoreError("AppointmentByID", id, err)
	}

	appointment.Type = apptType.String
	appointment.Provider = provider.String
	appointment.Status = stat.String

	return &appointment, nil
}
