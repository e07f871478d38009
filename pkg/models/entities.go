package models

import (
	"strconv"
	"time"
)

// Patient is the read-only view of a patient used during planning and
// message rendering. CRUD lives outside the engine.
type Patient struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Phone      string            `json:"phone,omitempty"`
	Email      string            `json:"email,omitempty"`
	BirthDate  *time.Time        `json:"birth_date,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Age returns the patient's age in whole years at the given instant, or -1
// when the birth date is unknown.
func (p *Patient) Age(at time.Time) int {
	if p.BirthDate == nil {
		return -1
	}

	years := at.Year() - p.BirthDate.Year()
	if at.YearDay() < p.BirthDate.YearDay() {
		years--
	}

	return years
}

// Appointment is the read-only view of an appointment.
type Appointment struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	Type        string    `json:"type,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      string    `json:"status,omitempty"`
}

// ContextVariables derives the condition/template variables for a patient
// and optional appointment at the given instant.
func ContextVariables(patient *Patient, appointment *Appointment, now time.Time) map[string]string {
	vars := make(map[string]string)

	if patient != nil {
		for k, v := range patient.Attributes {
			vars[k] = v
		}

		vars["patient_id"] = patient.ID
		vars["patient_name"] = patient.Name
		vars["patient_phone"] = patient.Phone
		vars["patient_email"] = patient.Email

		if age := patient.Age(now); age >= 0 {
			vars["age"] = strconv.Itoa(age)
		}
	}

	if appointment != nil {
		vars["appointment_id"] = appointment.ID
		vars["appointment_type"] = appointment.Type
		vars["appointment_status"] = appointment.Status
		vars["appointment_date"] = appointment.ScheduledAt.Format("2006-01-02")
	}

	return vars
}
