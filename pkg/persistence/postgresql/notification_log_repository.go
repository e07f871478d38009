package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/lib/pq"
)

// NotificationLogRepository stores the send log backing the idempotency
// check.
type NotificationLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Append records a sent notification. A unique-violation on the dedup index
// is swallowed: a concurrent duplicate append means the send is already
// recorded, which is exactly the guarantee the log exists to provide.
func (r *NotificationLogRepository) Append(ctx context.Context, record *models.NotificationRecord) error {
	query := `
		INSERT INTO notification_log (id, workflow_id, node_id, patient_id, appointment_id, channel, content, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.WorkflowID,
		record.NodeID,
		record.PatientID,
		record.AppointmentID,
		record.Channel,
		record.Content,
		record.SentAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			r.logger.DebugContext(ctx, "Duplicate notification log entry ignored",
				"workflow_id", record.WorkflowID, "node_id", record.NodeID, "patient_id", record.PatientID)

			return nil
		}

		return persistence.NewStoreError("AppendNotification", record.ID, err)
	}

	return nil
}

// Exists reports whether a notification was already logged for the tuple.
func (r *NotificationLogRepository) Exists(ctx context.Context, workflowID, nodeID, patientID, appointmentID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notification_log
			WHERE workflow_id = $1 AND node_id = $2 AND patient_id = $3 AND appointment_id = $4
		)
	`

	var exists bool

	err := r.db.QueryRowContext(ctx, query, workflowID, nodeID, patientID, appointmentID).Scan(&exists)
	if err != nil {
		return false, persistence.NewStoreError("NotificationExists", nodeID, err)
	}

	return exists, nil
}
