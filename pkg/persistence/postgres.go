package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/arcflow/engine/internal/db"
	"github.com/arcflow/engine/pkg/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting the two
// statements CompleteStep needs run either standalone or inside a
// transaction without duplicating their SQL.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Postgres is the reference Manager implementation, following the teacher's
// internal/db connection-pool and embedded-migration conventions.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an already-connected, already-migrated *sql.DB.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) InsertInstance(ctx context.Context, instance model.WorkflowInstance) error {
	workflowID, err := p.resolveWorkflowID(ctx, instance.WorkflowName)
	if err != nil {
		return fmt.Errorf("resolve workflow %q: %w", instance.WorkflowName, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO workflow_instances (workflow_id, external_id)
		VALUES ($1, $2)
		ON CONFLICT (external_id) DO NOTHING`,
		workflowID, uuid.UUID(instance.InstanceId))
	if err != nil {
		return fmt.Errorf("insert workflow_instances: %w", err)
	}
	return nil
}

// resolveWorkflowID looks up the catalog row for name, creating it on first
// use. Self-registering here keeps the engine from requiring a separate
// seed step before a project's first instance can be ingested.
func (p *Postgres) resolveWorkflowID(ctx context.Context, name model.WorkflowName) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `SELECT id FROM workflows WHERE name = $1`, string(name)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	err = p.db.QueryRowContext(ctx, `
		INSERT INTO workflows (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, string(name)).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertStep reports whether the row was newly inserted via the standard
// ON CONFLICT ... DO NOTHING rows-affected check: a duplicate stepID leaves
// RowsAffected at 0 rather than erroring, so callers must check the bool
// rather than treat a nil error as "freshly scheduled."
func (p *Postgres) InsertStep(ctx context.Context, instance model.InstanceId, stepID model.StepId, previousStepID *model.StepId, step model.ProjectStepWithSettings, status model.StepStatus) (bool, error) {
	stepJSON, err := json.Marshal(step)
	if err != nil {
		return false, fmt.Errorf("marshal step body: %w", err)
	}

	var prev *uuid.UUID
	if previousStepID != nil {
		u := uuid.UUID(*previousStepID)
		prev = &u
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO workflow_steps (
			workflow_instance_external_id, external_id, previous_step_external_id, step, status
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO NOTHING`,
		uuid.UUID(instance), uuid.UUID(stepID), prev, stepJSON, status.Rank())
	if err != nil {
		return false, fmt.Errorf("insert workflow_steps: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert workflow_steps: rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetStepStatus advances status, guarded against regressing a step's
// lifecycle with a WHERE clause rather than a read-modify-write round trip.
func (p *Postgres) SetStepStatus(ctx context.Context, stepID model.StepId, status model.StepStatus) error {
	return setStepStatus(ctx, p.db, stepID, status)
}

func (p *Postgres) InsertStepOutput(ctx context.Context, stepID model.StepId, output []byte) error {
	return insertStepOutput(ctx, p.db, stepID, output)
}

func insertStepOutput(ctx context.Context, q querier, stepID model.StepId, output []byte) error {
	var internalID int64
	err := q.QueryRowContext(ctx, `SELECT id FROM workflow_steps WHERE external_id = $1`, uuid.UUID(stepID)).Scan(&internalID)
	if err != nil {
		return fmt.Errorf("resolve workflow_steps.id for %s: %w", stepID, err)
	}

	var outputArg interface{}
	if output != nil {
		outputArg = output
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO workflow_step_outputs (workflow_step_id, output) VALUES ($1, $2)`,
		internalID, outputArg)
	if err != nil {
		return fmt.Errorf("insert workflow_step_outputs: %w", err)
	}
	return nil
}

func setStepStatus(ctx context.Context, q querier, stepID model.StepId, status model.StepStatus) error {
	_, err := q.ExecContext(ctx, `
		UPDATE workflow_steps
		SET status = $1, updated_at = now()
		WHERE external_id = $2 AND status < $1`,
		status.Rank(), uuid.UUID(stepID))
	if err != nil {
		return fmt.Errorf("set step status: %w", err)
	}
	return nil
}

// CompleteStep wraps the Completed status write and the output insert in a
// single transaction via internal/db.Tx, so the two writes a completed step
// always needs land atomically instead of as two independently-retryable
// calls.
func (p *Postgres) CompleteStep(ctx context.Context, stepID model.StepId, output []byte) error {
	return db.Tx(ctx, p.db, func(tx *sql.Tx) error {
		if err := setStepStatus(ctx, tx, stepID, model.StepCompleted); err != nil {
			return err
		}
		return insertStepOutput(ctx, tx, stepID, output)
	})
}

