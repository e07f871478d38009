package models

import "time"

// NotificationRecord is one row of the notification log: the proof that an
// action node fired for a given patient/appointment. Its unique key
// (workflow, node, appointment, patient) is the idempotency guard against
// duplicate sends.
type NotificationRecord struct {
	ID            string    `json:"id"`
	WorkflowID    string    `json:"workflow_id"`
	NodeID        string    `json:"node_id"`
	PatientID     string    `json:"patient_id"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	Channel       string    `json:"channel,omitempty"`
	Content       string    `json:"content,omitempty"`
	SentAt        time.Time `json:"sent_at"`
}
