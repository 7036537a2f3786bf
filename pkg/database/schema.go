package database

var schema = []string{
	`CREATE TABLE IF NOT EXISTS applications (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS phase_records (
		application_id UUID NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		deadline TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		reviewed_at TIMESTAMPTZ,
		review_notes TEXT,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (application_id, phase),
		CHECK ((completed_at IS NOT NULL) = (status IN ('completed', 'approved'))),
		CHECK (reviewed_at IS NULL OR status IN ('pending_review', 'approved', 'rejected'))
	)`,
	`CREATE TABLE IF NOT EXISTS stages (
		id UUID PRIMARY KEY,
		application_id UUID NOT NULL,
		phase TEXT NOT NULL,
		title TEXT NOT NULL,
		sort_order INTEGER NOT NULL,
		status TEXT NOT NULL,
		is_required BOOLEAN NOT NULL DEFAULT TRUE,
		deadline TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL,
		FOREIGN KEY (application_id, phase) REFERENCES phase_records(application_id, phase) ON DELETE CASCADE,
		UNIQUE (application_id, phase, sort_order)
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		application_id UUID NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
		phase TEXT NOT NULL,
		stage_id UUID REFERENCES stages(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		source_type TEXT NOT NULL,
		access_permission TEXT NOT NULL DEFAULT 'unknown',
		is_required BOOLEAN NOT NULL DEFAULT FALSE,
		is_accessible BOOLEAN NOT NULL DEFAULT FALSE,
		last_verified TIMESTAMPTZ,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_application ON documents (application_id, phase)`,
	`CREATE TABLE IF NOT EXISTS status_events (
		id UUID PRIMARY KEY,
		application_id UUID NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		stage_id UUID,
		old_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		triggered_by TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_status_events_application ON status_events (application_id, occurred_at DESC)`,
	`CREATE TABLE IF NOT EXISTS budgets (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		destination TEXT NOT NULL DEFAULT '',
		exchange_program_id TEXT,
		categories JSONB NOT NULL,
		total_amount NUMERIC(14, 2) NOT NULL,
		currency TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, destination)
	)`,
	`CREATE TABLE IF NOT EXISTS budget_history (
		id UUID PRIMARY KEY,
		budget_id UUID NOT NULL REFERENCES budgets(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		destination TEXT NOT NULL,
		categories JSONB NOT NULL,
		total_amount NUMERIC(14, 2) NOT NULL,
		changed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_budget_history_user ON budget_history (user_id, changed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS grants (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		source TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		estimated_amount NUMERIC(14, 2),
		approved_amount NUMERIC(14, 2),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, source, kind, name),
		CHECK (approved_amount IS NULL OR status = 'approved')
	)`,
}
