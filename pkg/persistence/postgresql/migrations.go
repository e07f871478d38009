package postgresql

// migrations returns the schema migration scripts, keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(32) NOT NULL DEFAULT 'draft',
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				variables JSONB NOT NULL DEFAULT '{}',
				metadata JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE patients (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				phone VARCHAR(64),
				email VARCHAR(255),
				birth_date DATE,
				attributes JSONB NOT NULL DEFAULT '{}'
			);

			CREATE TABLE appointments (
				id VARCHAR(255) PRIMARY KEY,
				patient_id VARCHAR(255) NOT NULL,
				type VARCHAR(255),
				provider VARCHAR(255),
				scheduled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				status VARCHAR(64)
			);

			CREATE INDEX idx_appointments_patient_id ON appointments(patient_id);
		`,
		2: `
			CREATE TABLE jobs (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				patient_id VARCHAR(255) NOT NULL,
				appointment_id VARCHAR(255),
				context JSONB NOT NULL DEFAULT '{}',
				priority VARCHAR(16) NOT NULL DEFAULT 'normal',
				status VARCHAR(16) NOT NULL DEFAULT 'queued',
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 3,
				timeout_ms BIGINT NOT NULL DEFAULT 300000,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				scheduled_for TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				tags JSONB NOT NULL DEFAULT '[]',
				last_error TEXT NOT NULL DEFAULT ''
			);

			-- Index for the claim query (the hottest query in the system).
			CREATE INDEX idx_jobs_due ON jobs(status, scheduled_for, priority);
			CREATE INDEX idx_jobs_workflow_patient ON jobs(workflow_id, patient_id);
			CREATE INDEX idx_jobs_tags ON jobs USING GIN (tags);
		`,
		3: `
			CREATE TABLE execution_states (
				execution_id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				patient_id VARCHAR(255) NOT NULL,
				status VARCHAR(16) NOT NULL DEFAULT 'running',
				executed_nodes JSONB NOT NULL DEFAULT '[]',
				pending_nodes JSONB NOT NULL DEFAULT '[]',
				failed_nodes JSONB NOT NULL DEFAULT '{}',
				checkpoint_data JSONB NOT NULL DEFAULT '{}',
				retry_count INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_updated TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_states_pair ON execution_states(workflow_id, patient_id, status);
		`,
		4: `
			CREATE TABLE notification_log (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				patient_id VARCHAR(255) NOT NULL,
				appointment_id VARCHAR(255) NOT NULL DEFAULT '',
				channel VARCHAR(64),
				content TEXT,
				sent_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- The idempotency key: one send per workflow/node/patient/appointment.
			CREATE UNIQUE INDEX idx_notification_log_dedup
				ON notification_log(workflow_id, node_id, patient_id, appointment_id);
		`,
	}
}
