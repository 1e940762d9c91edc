package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kandev/dispatchd/internal/common/apperrors"
	"github.com/kandev/dispatchd/internal/common/database"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// PostgresStore is the pgx-backed Store implementation. Every scoped call
// runs inside a transaction whose first statement sets the
// app.current_tenant_id attribute the row-level policies read.
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) UpsertCodebase(ctx context.Context, tenantID string, cb *v1.Codebase) error {
	return s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO codebases (id, tenant_id, name, path, owning_worker_id, status)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				path = EXCLUDED.path,
				owning_worker_id = EXCLUDED.owning_worker_id,
				status = EXCLUDED.status
		`, cb.ID, tenantID, cb.Name, cb.Path, cb.OwningWorker, cb.Status)
		if err != nil {
			return fmt.Errorf("store: upsert codebase: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetCodebase(ctx context.Context, tenantID, id string) (*v1.Codebase, error) {
	var cb v1.Codebase
	err := s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id, tenant_id, name, path, COALESCE(owning_worker_id, ''), status
			FROM codebases WHERE id = $1
		`, id)
		return row.Scan(&cb.ID, &cb.TenantID, &cb.Name, &cb.Path, &cb.OwningWorker, &cb.Status)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("codebase not found")
	}
	if err != nil {
		return nil, fmt.Errorf("store: get codebase: %w", err)
	}
	return &cb, nil
}

func (s *PostgresStore) DeleteCodebase(ctx context.Context, tenantID, id string) error {
	return s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM codebases WHERE id = $1`, id)
		return err
	})
}

func (s *PostgresStore) ListCodebases(ctx context.Context, tenantID string) ([]*v1.Codebase, error) {
	var out []*v1.Codebase
	err := s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, tenant_id, name, path, COALESCE(owning_worker_id, ''), status
			FROM codebases ORDER BY name
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var cb v1.Codebase
			if err := rows.Scan(&cb.ID, &cb.TenantID, &cb.Name, &cb.Path, &cb.OwningWorker, &cb.Status); err != nil {
				return err
			}
			out = append(out, &cb)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("store: list codebases: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertTask(ctx context.Context, tenantID string, task *v1.Task) error {
	metaJSON, err := json.Marshal(task.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}
	return s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO tasks (
				id, tenant_id, codebase_id, title, prompt, agent_type, priority,
				requested_model_ref, resolved_model_ref, target_agent_name,
				worker_personality, required_capabilities, status, worker_id,
				session_id, result, error, metadata, created_at, started_at, completed_at
			) VALUES (
				$1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
				NULLIF($14, ''), NULLIF($15, ''), $16, $17, $18, $19, $20, $21
			)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				worker_id = EXCLUDED.worker_id,
				resolved_model_ref = EXCLUDED.resolved_model_ref,
				session_id = EXCLUDED.session_id,
				result = EXCLUDED.result,
				error = EXCLUDED.error,
				metadata = EXCLUDED.metadata,
				started_at = EXCLUDED.started_at,
				completed_at = EXCLUDED.completed_at
		`, task.ID, tenantID, task.CodebaseID, task.Title, task.Prompt, task.AgentType,
			task.Priority, task.RequestedModelRef, task.ResolvedModelRef, task.TargetAgentName,
			task.WorkerPersonality, task.RequiredCapabilities, task.Status, nullableStr(task.WorkerID),
			task.SessionID, task.Result, task.Error, metaJSON, task.CreatedAt, task.StartedAt, task.CompletedAt)
		if err != nil {
			return fmt.Errorf("store: upsert task: %w", err)
		}
		return nil
	})
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanTask(row pgx.Row) (*v1.Task, error) {
	var t v1.Task
	var codebaseID, workerID, sessionID *string
	var metaJSON []byte
	if err := row.Scan(
		&t.ID, &t.TenantID, &codebaseID, &t.Title, &t.Prompt, &t.AgentType, &t.Priority,
		&t.RequestedModelRef, &t.ResolvedModelRef, &t.TargetAgentName, &t.WorkerPersonality,
		&t.RequiredCapabilities, &t.Status, &workerID, &sessionID, &t.Result, &t.Error,
		&metaJSON, &t.CreatedAt, &t.StartedAt, &t.CompletedAt,
	); err != nil {
		return nil, err
	}
	if codebaseID != nil {
		t.CodebaseID = *codebaseID
	}
	if workerID != nil {
		t.WorkerID = *workerID
	}
	if sessionID != nil {
		t.SessionID = *sessionID
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &t.Metadata)
	}
	return &t, nil
}

const taskColumns = `
	id, tenant_id, codebase_id, title, prompt, agent_type, priority,
	requested_model_ref, resolved_model_ref, target_agent_name, worker_personality,
	required_capabilities, status, worker_id, session_id, result, error, metadata,
	created_at, started_at, completed_at
`

func (s *PostgresStore) GetTask(ctx context.Context, tenantID, id string) (*v1.Task, error) {
	var task *v1.Task
	err := s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
		t, err := scanTask(row)
		task = t
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, tenantID string, filter TaskFilter) ([]*v1.Task, error) {
	var out []*v1.Task
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	err := s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
		args := []interface{}{}
		if filter.CodebaseID != "" {
			args = append(args, filter.CodebaseID)
			query += fmt.Sprintf(" AND codebase_id = $%d", len(args))
		}
		if filter.Status != "" {
			args = append(args, filter.Status)
			query += fmt.Sprintf(" AND status = $%d", len(args))
		}
		if filter.SessionID != "" {
			args = append(args, filter.SessionID)
			query += fmt.Sprintf(" AND session_id = $%d", len(args))
		}
		args = append(args, limit)
		query += fmt.Sprintf(" ORDER BY priority DESC, created_at ASC LIMIT $%d", len(args))

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	return out, nil
}

// ClaimTask is the single conditional write that arbitrates single
// delivery: the UPDATE's WHERE clause only matches rows still in pending
// or queued, so concurrent callers racing on the same task id have
// exactly one succeed.
func (s *PostgresStore) ClaimTask(ctx context.Context, tenantID, taskID, workerID string) (ClaimResult, *v1.Task, error) {
	var result ClaimResult
	var task *v1.Task

	err := s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE tasks SET status = $1, worker_id = $2, started_at = COALESCE(started_at, now())
			WHERE id = $3 AND status IN ($4, $5)
		`, v1.TaskAssigned, workerID, taskID, v1.TaskPending, v1.TaskQueued)
		if err != nil {
			return fmt.Errorf("store: claim task: %w", err)
		}

		if tag.RowsAffected() == 1 {
			result = ClaimSucceeded
			row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
			task, err = scanTask(row)
			return err
		}

		row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
		existing, err := scanTask(row)
		if errors.Is(err, pgx.ErrNoRows) {
			result = ClaimNotFound
			return nil
		}
		if err != nil {
			return err
		}
		result = ClaimAlreadyClaimed
		task = existing
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return result, task, nil
}

func (s *PostgresStore) ReleaseTask(ctx context.Context, tenantID, taskID, workerID string, newStatus v1.TaskStatus, result, errMsg string) error {
	return s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT status, worker_id FROM tasks WHERE id = $1`, taskID)
		var status v1.TaskStatus
		var currentWorker *string
		if err := row.Scan(&status, &currentWorker); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NotFound("task not found")
			}
			return err
		}
		if currentWorker == nil || *currentWorker != workerID {
			return apperrors.Conflict("release: worker id mismatch")
		}
		if status.Terminal() {
			if status == newStatus {
				return nil // idempotent re-acknowledge
			}
			return apperrors.Conflict("release: task already terminal")
		}

		// A RUNNING report is a progress update, not a release: absorbed
		// idempotently without resetting timestamps.
		if newStatus == v1.TaskRunning {
			if status == v1.TaskRunning {
				return nil
			}
			_, err := tx.Exec(ctx, `
				UPDATE tasks SET status = $1, started_at = COALESCE(started_at, now())
				WHERE id = $2
			`, v1.TaskRunning, taskID)
			return err
		}

		_, err := tx.Exec(ctx, `
			UPDATE tasks SET status = $1, result = $2, error = $3, completed_at = now()
			WHERE id = $4
		`, newStatus, result, errMsg, taskID)
		return err
	})
}

func (s *PostgresStore) CancelTask(ctx context.Context, tenantID, taskID string) error {
	return s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE tasks SET status = $1, completed_at = now()
			WHERE id = $2 AND status IN ($3, $4)
		`, v1.TaskCancelled, taskID, v1.TaskPending, v1.TaskQueued)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperrors.Conflict("cancel: task already claimed or terminal")
		}
		return nil
	})
}

func (s *PostgresStore) ReapTask(ctx context.Context, tenantID, taskID string) error {
	return s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE tasks SET status = $1, worker_id = NULL, started_at = NULL
			WHERE id = $2 AND status IN ($3, $4)
		`, v1.TaskPending, taskID, v1.TaskAssigned, v1.TaskRunning)
		return err
	})
}

func (s *PostgresStore) UpsertWorker(ctx context.Context, tenantID string, w *v1.Worker) error {
	return s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO workers (id, tenant_id, display_name, personality, capabilities, codebases, supported_models, status, last_seen)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				personality = EXCLUDED.personality,
				capabilities = EXCLUDED.capabilities,
				codebases = EXCLUDED.codebases,
				supported_models = EXCLUDED.supported_models,
				status = EXCLUDED.status,
				last_seen = EXCLUDED.last_seen
		`, w.ID, tenantID, w.DisplayName, w.Personality, w.Capabilities, w.Codebases, w.SupportedModels, w.Status, w.LastSeen)
		return err
	})
}

func (s *PostgresStore) GetWorker(ctx context.Context, tenantID, id string) (*v1.Worker, error) {
	var w v1.Worker
	err := s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id, tenant_id, display_name, personality, capabilities, codebases, supported_models, status, last_seen
			FROM workers WHERE id = $1
		`, id)
		return row.Scan(&w.ID, &w.TenantID, &w.DisplayName, &w.Personality, &w.Capabilities, &w.Codebases, &w.SupportedModels, &w.Status, &w.LastSeen)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("worker not found")
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PostgresStore) ListWorkers(ctx context.Context, tenantID string) ([]*v1.Worker, error) {
	var out []*v1.Worker
	err := s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, tenant_id, display_name, personality, capabilities, codebases, supported_models, status, last_seen
			FROM workers ORDER BY display_name
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var w v1.Worker
			if err := rows.Scan(&w.ID, &w.TenantID, &w.DisplayName, &w.Personality, &w.Capabilities, &w.Codebases, &w.SupportedModels, &w.Status, &w.LastSeen); err != nil {
				return err
			}
			out = append(out, &w)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PostgresStore) SetWorkerLiveness(ctx context.Context, tenantID, workerID string, now time.Time) error {
	return s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE workers SET last_seen = $1 WHERE id = $2`, now, workerID)
		return err
	})
}

// ListClaimedByWorker returns ids of tasks the worker currently holds in
// assigned or running state and claimed before the grace cutoff, used by
// the liveness-sweep reap path.
func (s *PostgresStore) ListClaimedByWorker(ctx context.Context, tenantID, workerID string, before time.Time) ([]string, error) {
	var out []string
	err := s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id FROM tasks
			WHERE worker_id = $1 AND status IN ($2, $3)
			AND (started_at IS NULL OR started_at < $4)
		`, workerID, v1.TaskAssigned, v1.TaskRunning, before)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			out = append(out, id)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PostgresStore) UpsertSession(ctx context.Context, tenantID string, sess *v1.Session) error {
	return s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO sessions (id, tenant_id, codebase_id, status, external_service_name, created_at, ended_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				external_service_name = EXCLUDED.external_service_name,
				ended_at = EXCLUDED.ended_at
		`, sess.ID, tenantID, sess.CodebaseID, sess.Status, sess.ExternalServiceName, sess.CreatedAt, sess.EndedAt)
		return err
	})
}

func (s *PostgresStore) GetSession(ctx context.Context, tenantID, id string) (*v1.Session, error) {
	var sess v1.Session
	err := s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id, tenant_id, codebase_id, status, COALESCE(external_service_name, ''), created_at, ended_at
			FROM sessions WHERE id = $1
		`, id)
		return row.Scan(&sess.ID, &sess.TenantID, &sess.CodebaseID, &sess.Status, &sess.ExternalServiceName, &sess.CreatedAt, &sess.EndedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("session not found")
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetActiveSessionForCodebase looks the codebase's active session up, if
// any; the not-found error is the "no active session" signal the session
// creation path relies on.
func (s *PostgresStore) GetActiveSessionForCodebase(ctx context.Context, tenantID, codebaseID string) (*v1.Session, error) {
	var sess v1.Session
	err := s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id, tenant_id, codebase_id, status, COALESCE(external_service_name, ''), created_at, ended_at
			FROM sessions WHERE codebase_id = $1 AND status = $2
			ORDER BY created_at DESC LIMIT 1
		`, codebaseID, v1.SessionActive)
		return row.Scan(&sess.ID, &sess.TenantID, &sess.CodebaseID, &sess.Status, &sess.ExternalServiceName, &sess.CreatedAt, &sess.EndedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("no active session for codebase")
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// EndSession marks the session ended and cancels every non-terminal task
// bound to it in the same transaction.
func (s *PostgresStore) EndSession(ctx context.Context, tenantID, sessionID string) ([]*v1.Task, error) {
	var cancelled []*v1.Task
	err := s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE sessions SET status = $1, ended_at = now() WHERE id = $2
		`, v1.SessionEnded, sessionID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperrors.NotFound("session not found")
		}

		rows, err := tx.Query(ctx, `
			UPDATE tasks SET status = $1, error = $2, completed_at = now()
			WHERE session_id = $3 AND status NOT IN ($4, $5, $6)
			RETURNING `+taskColumns,
			v1.TaskCancelled, "Session ended", sessionID, v1.TaskCompleted, v1.TaskFailed, v1.TaskCancelled,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return err
			}
			cancelled = append(cancelled, t)
		}
		return rows.Err()
	})
	return cancelled, err
}

func (s *PostgresStore) UpsertCronjob(ctx context.Context, tenantID string, job *v1.Cronjob) error {
	tplJSON, err := json.Marshal(job.Template)
	if err != nil {
		return fmt.Errorf("store: marshal template: %w", err)
	}
	return s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO cronjobs (id, tenant_id, cron_expr, timezone, enabled, task_template, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				cron_expr = EXCLUDED.cron_expr,
				timezone = EXCLUDED.timezone,
				enabled = EXCLUDED.enabled,
				task_template = EXCLUDED.task_template
		`, job.ID, tenantID, job.CronExpr, job.Timezone, job.Enabled, tplJSON, job.CreatedAt)
		return err
	})
}

func scanCronjob(row pgx.Row) (*v1.Cronjob, error) {
	var j v1.Cronjob
	var tplJSON []byte
	if err := row.Scan(&j.ID, &j.TenantID, &j.CronExpr, &j.Timezone, &j.Enabled, &tplJSON, &j.CreatedAt); err != nil {
		return nil, err
	}
	if len(tplJSON) > 0 {
		_ = json.Unmarshal(tplJSON, &j.Template)
	}
	return &j, nil
}

func (s *PostgresStore) GetCronjob(ctx context.Context, tenantID, id string) (*v1.Cronjob, error) {
	var job *v1.Cronjob
	err := s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id, tenant_id, cron_expr, timezone, enabled, task_template, created_at
			FROM cronjobs WHERE id = $1
		`, id)
		j, err := scanCronjob(row)
		job = j
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("cronjob not found")
	}
	return job, err
}

func (s *PostgresStore) DeleteCronjob(ctx context.Context, tenantID, id string) error {
	return s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM cronjobs WHERE id = $1`, id)
		return err
	})
}

func (s *PostgresStore) ListCronjobs(ctx context.Context, tenantID string) ([]*v1.Cronjob, error) {
	var out []*v1.Cronjob
	err := s.db.WithTenantTx(ctx, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, tenant_id, cron_expr, timezone, enabled, task_template, created_at
			FROM cronjobs ORDER BY created_at
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			j, err := scanCronjob(rows)
			if err != nil {
				return err
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	return out, err
}

// ListEnabledCronjobs reads across all tenants administratively; used
// only by the Cron Reconciler's reconcile_all loop.
func (s *PostgresStore) ListEnabledCronjobs(ctx context.Context) ([]*v1.Cronjob, error) {
	var out []*v1.Cronjob
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, tenant_id, cron_expr, timezone, enabled, task_template, created_at
			FROM cronjobs WHERE enabled = true ORDER BY created_at
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			j, err := scanCronjob(rows)
			if err != nil {
				return err
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	return out, err
}
