package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE jobs (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				input JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				first_step_id VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_jobs_status_created_at ON jobs(status, created_at, id);

			CREATE TABLE job_steps (
				job_id VARCHAR(255) NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				position INT NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				step_type VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				input JSONB,
				output JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				next_step_id VARCHAR(255),
				config JSONB NOT NULL DEFAULT '{}',
				PRIMARY KEY (job_id, id)
			);

			CREATE INDEX idx_job_steps_position ON job_steps(job_id, position);
		`,
	}
}
