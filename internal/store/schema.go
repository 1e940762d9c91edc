package store

import (
	"context"
	"fmt"
)

// schemaStatements is the CREATE TABLE IF NOT EXISTS bootstrap run at
// startup, with row-level tenant visibility predicates. Production
// deployments are expected to manage this via a migration tool; this
// bootstrap exists for local development and tests.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS codebases (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		owning_worker_id TEXT,
		status TEXT NOT NULL DEFAULT 'active'
	)`,
	`CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		personality TEXT NOT NULL DEFAULT '',
		capabilities TEXT[] NOT NULL DEFAULT '{}',
		codebases TEXT[] NOT NULL DEFAULT '{}',
		supported_models TEXT[] NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'disconnected',
		last_seen TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		codebase_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		external_service_name TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		ended_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		codebase_id TEXT,
		title TEXT NOT NULL,
		prompt TEXT NOT NULL,
		agent_type TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		requested_model_ref TEXT NOT NULL DEFAULT '',
		resolved_model_ref TEXT NOT NULL DEFAULT '',
		target_agent_name TEXT NOT NULL DEFAULT '',
		worker_personality TEXT NOT NULL DEFAULT '',
		required_capabilities TEXT[] NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		worker_id TEXT,
		session_id TEXT,
		result TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_tenant_status ON tasks (tenant_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_codebase ON tasks (codebase_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks (session_id)`,
	`CREATE TABLE IF NOT EXISTS cronjobs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		cron_expr TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT true,
		task_template JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// tenantScopedTables carry a row-level security policy so a query issued
// under a tenant scope can only ever see or mutate that tenant's rows. An
// unset (or empty) app.current_tenant_id is administrative scope and sees
// everything, which is what the reconciliation and cron-firing paths use.
var tenantScopedTables = []string{"codebases", "workers", "sessions", "tasks", "cronjobs"}

const tenantPolicyPredicate = `(
	COALESCE(current_setting('app.current_tenant_id', true), '') = ''
	OR tenant_id = current_setting('app.current_tenant_id', true)
)`

// EnsureSchema creates every table the Store needs if it does not already
// exist, and installs the tenant row-level security policies.
// Administrative/unscoped by nature.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Pool().Exec(ctx, stmt); err != nil {
			return err
		}
	}
	for _, table := range tenantScopedTables {
		stmts := []string{
			fmt.Sprintf(`ALTER TABLE %s ENABLE ROW LEVEL SECURITY`, table),
			fmt.Sprintf(`ALTER TABLE %s FORCE ROW LEVEL SECURITY`, table),
			fmt.Sprintf(`DROP POLICY IF EXISTS %s_tenant_isolation ON %s`, table, table),
			fmt.Sprintf(`CREATE POLICY %s_tenant_isolation ON %s USING %s WITH CHECK %s`,
				table, table, tenantPolicyPredicate, tenantPolicyPredicate),
		}
		for _, stmt := range stmts {
			if _, err := s.db.Pool().Exec(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}
