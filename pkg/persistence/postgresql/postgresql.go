// Package postgresql implements the persistence interfaces on PostgreSQL.
// The job claim uses FOR UPDATE SKIP LOCKED so that horizontally scaled
// schedulers never double-claim a job.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/persistence/sqlbase"

	_ "github.com/lib/pq"
)

// Persistence implements persistence.Persistence backed by PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	jobs         *JobRepository
	states       *ExecutionStateRepository
	notification *NotificationLogRepository
	workflows    *WorkflowRepository
	patients     *PatientRepository
	appointments *AppointmentRepository
}

// NewPersistence connects to PostgreSQL and runs migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger = logger.With("module", "postgresql")
	logger.InfoContext(ctx, "PostgreSQL persistence initialized")

	return &Persistence{
		db:           database,
		logger:       logger,
		jobs:         &JobRepository{db: database, logger: logger},
		states:       &ExecutionStateRepository{db: database, logger: logger},
		notification: &NotificationLogRepository{db: database, logger: logger},
		workflows:    &WorkflowRepository{db: database, logger: logger},
		patients:     &PatientRepository{db: database},
		appointments: &AppointmentRepository{db: database},
	}, nil
}

func (p *Persistence) Jobs() persistence.JobRepository { return p.jobs }

func (p *Persistence) ExecutionStates() persistence.ExecutionStateRepository { return p.states }

func (p *Persistence) NotificationLog() persistence.NotificationLogRepository {
	return p.notification
}

func (p *Persistence) Workflows() persistence.WorkflowRepository { return p.workflows }

func (p *Persistence) Patients() persistence.PatientRepository { return p.patients }

func (p *Persistence) Appointments() persistence.AppointmentRepository { return p.appointments }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to close database connection", "error", err)

			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
