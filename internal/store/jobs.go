package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danitrap/ambrogio-agent-sub000/internal/fault"
	"github.com/danitrap/ambrogio-agent-sub000/internal/recurrence"
)

// RecurringSpec describes the cadence of a recurring job.
type RecurringSpec struct {
	Type       recurrence.Type
	Expression string
	MaxRuns    *int
}

// CreateBackgroundJob inserts a job that tracks immediate work. It has no
// due time; the caller claims and executes it right away, the row only
// carries state and outcome.
func (s *Store) CreateBackgroundJob(ctx context.Context, userID, chatID, prompt, preview string) (*Job, error) {
	j := &Job{
		ID:                uuid.NewString(),
		Kind:              KindBackground,
		Status:            StatusScheduled,
		UserID:            userID,
		ChatID:            chatID,
		PayloadPrompt:     prompt,
		RequestPreview:    preview,
		CreatedAt:         s.now(),
		RecurrenceEnabled: true,
	}
	return j, s.insertJob(ctx, j)
}

// CreateDelayedJob inserts a one-shot job due at runAt. runAt must be in
// the future.
func (s *Store) CreateDelayedJob(ctx context.Context, userID, chatID, prompt, preview string, runAt time.Time) (*Job, error) {
	if prompt == "" {
		return nil, fault.New(fault.BadRequest, "a delayed job needs a prompt")
	}
	now := s.now()
	if !runAt.After(now) {
		return nil, fault.New(fault.InvalidTime, "run time %s is not in the future", runAt.Format(time.RFC3339))
	}
	j := &Job{
		ID:                uuid.NewString(),
		Kind:              KindDelayed,
		Status:            StatusScheduled,
		UserID:            userID,
		ChatID:            chatID,
		PayloadPrompt:     prompt,
		RunAt:             &runAt,
		RequestPreview:    preview,
		CreatedAt:         now,
		RecurrenceEnabled: true,
	}
	return j, s.insertJob(ctx, j)
}

// CreateRecurringJob inserts a recurring job. The expression is validated
// first. For cron jobs a supplied runAt that lies in the past or does not
// satisfy the expression's day constraints is silently recomputed via the
// calculator rather than rejected.
func (s *Store) CreateRecurringJob(ctx context.Context, userID, chatID, prompt, preview string, spec RecurringSpec, runAt time.Time) (*Job, error) {
	if prompt == "" {
		return nil, fault.New(fault.BadRequest, "a recurring job needs a prompt")
	}
	if err := recurrence.ValidateExpression(spec.Type, spec.Expression); err != nil {
		return nil, err
	}
	if spec.MaxRuns != nil && *spec.MaxRuns <= 0 {
		return nil, fault.New(fault.BadRequest, "max runs must be a positive number")
	}

	now := s.now()
	switch spec.Type {
	case recurrence.TypeCron:
		ok := runAt.After(now)
		if ok {
			match, err := recurrence.CronMatchesDay(spec.Expression, runAt)
			if err != nil {
				return nil, err
			}
			ok = match
		}
		if !ok {
			next, err := recurrence.NextRunTime(spec.Type, spec.Expression, now)
			if err != nil {
				return nil, err
			}
			runAt = next
		}
	case recurrence.TypeInterval:
		if runAt.IsZero() {
			next, err := recurrence.NextRunTime(spec.Type, spec.Expression, now)
			if err != nil {
				return nil, err
			}
			runAt = next
		}
	}

	j := &Job{
		ID:                   uuid.NewString(),
		Kind:                 KindRecurring,
		Status:               StatusScheduled,
		UserID:               userID,
		ChatID:               chatID,
		PayloadPrompt:        prompt,
		RunAt:                &runAt,
		RequestPreview:       preview,
		CreatedAt:            now,
		RecurrenceType:       string(spec.Type),
		RecurrenceExpression: spec.Expression,
		RecurrenceMaxRuns:    spec.MaxRuns,
		RecurrenceEnabled:    true,
	}
	return j, s.insertJob(ctx, j)
}

func (s *Store) insertJob(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(`+jobColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Kind, j.Status, j.UserID, j.ChatID, nullStr(j.PayloadPrompt),
		msOrNil(j.RunAt), j.RequestPreview, j.CreatedAt.UnixMilli(),
		msOrNil(j.CompletedAt), msOrNil(j.DeliveredAt), nullStr(j.DeliveryText),
		nullStr(j.ErrorMessage), nullStr(j.RecurrenceType),
		nullStr(j.RecurrenceExpression), intOrNil(j.RecurrenceMaxRuns),
		j.RecurrenceRunCount, boolInt(j.RecurrenceEnabled), msOrNil(j.MutedUntil),
	)
	return err
}

// GetJob fetches a job by id. Missing jobs are a NOT_FOUND fault.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "job %s not found", id)
	}
	return j, err
}

// ListJobs returns the most recently created jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
}

// ListRecurringJobs returns all recurring jobs, newest first.
func (s *Store) ListRecurringJobs(ctx context.Context) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE kind = ? ORDER BY created_at DESC`, KindRecurring)
}

// GetDueScheduledJobs returns scheduled jobs whose due time has passed,
// oldest due first.
func (s *Store) GetDueScheduledJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = ? AND run_at IS NOT NULL AND run_at <= ?
		 ORDER BY run_at ASC LIMIT ?`,
		StatusScheduled, s.now().UnixMilli(), limit)
}

// ListPendingDeliveryJobs returns finished jobs whose result has not yet
// reached the user.
func (s *Store) ListPendingDeliveryJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN (?, ?) ORDER BY completed_at ASC LIMIT ?`,
		StatusCompletedPendingDelivery, StatusFailedPendingDelivery, limit)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimScheduledJob attempts the scheduled->running transition. The
// guarded UPDATE is the engine's only mutual-exclusion mechanism: exactly
// one caller per due occurrence sees true.
func (s *Store) ClaimScheduledJob(ctx context.Context, id string) (bool, error) {
	return s.guardedUpdate(ctx,
		`UPDATE jobs SET status = ? WHERE id = ? AND status = ?`,
		StatusRunning, id, StatusScheduled)
}

// MarkCompleted records a successful run. Returns false if the job was
// concurrently canceled or already transitioned.
func (s *Store) MarkCompleted(ctx context.Context, id, deliveryText string) (bool, error) {
	return s.guardedUpdate(ctx,
		`UPDATE jobs SET status = ?, completed_at = ?, delivery_text = ?, error_message = NULL
		 WHERE id = ? AND status = ?`,
		StatusCompletedPendingDelivery, s.now().UnixMilli(), nullStr(deliveryText), id, StatusRunning)
}

// MarkFailed records a failed run.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg, deliveryText string) (bool, error) {
	return s.guardedUpdate(ctx,
		`UPDATE jobs SET status = ?, completed_at = ?, delivery_text = ?, error_message = ?
		 WHERE id = ? AND status = ?`,
		StatusFailedPendingDelivery, s.now().UnixMilli(), nullStr(deliveryText), nullStr(errMsg), id, StatusRunning)
}

// MarkDelivered moves a pending-delivery job to its delivered variant.
func (s *Store) MarkDelivered(ctx context.Context, id string) (bool, error) {
	return s.guardedUpdate(ctx,
		`UPDATE jobs SET
		   status = CASE status WHEN ? THEN ? ELSE ? END,
		   delivered_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		StatusCompletedPendingDelivery, StatusCompletedDelivered, StatusFailedDelivered,
		s.now().UnixMilli(), id, StatusCompletedPendingDelivery, StatusFailedPendingDelivery)
}

// MarkSkippedMuted settles a muted one-shot job. Terminal; nothing is
// delivered.
func (s *Store) MarkSkippedMuted(ctx context.Context, id string) (bool, error) {
	return s.guardedUpdate(ctx,
		`UPDATE jobs SET status = ?, completed_at = ? WHERE id = ? AND status IN (?, ?)`,
		StatusSkippedMuted, s.now().UnixMilli(), id, StatusScheduled, StatusRunning)
}

// CancelResult distinguishes "never existed" from "too late to cancel".
type CancelResult string

const (
	CancelNotFound    CancelResult = "not_found"
	CancelAlreadyDone CancelResult = "already_done"
	CancelCanceled    CancelResult = "canceled"
)

// CancelJob cancels a job that has not yet settled. A job mid-execution
// may still finish its run; the outcome transition is then rejected by
// the status guard.
func (s *Store) CancelJob(ctx context.Context, id string) (CancelResult, error) {
	ok, err := s.guardedUpdate(ctx,
		`UPDATE jobs SET status = ? WHERE id = ? AND status IN (?, ?, ?, ?)`,
		StatusCanceled, id,
		StatusScheduled, StatusRunning, StatusCompletedPendingDelivery, StatusFailedPendingDelivery)
	if err != nil {
		return "", err
	}
	if ok {
		return CancelCanceled, nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return CancelNotFound, nil
	}
	if err != nil {
		return "", err
	}
	return CancelAlreadyDone, nil
}

// RecoverInterruptedJobs repairs rows a crash or an unclean shutdown
// left in running. Recurring jobs go straight back on the schedule and
// re-run on the next tick; one-shot jobs settle as failed so the
// interruption is still reported. Returns the number of rows repaired.
func (s *Store) RecoverInterruptedJobs(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE status = ? AND kind = ?`,
		StatusScheduled, StatusRunning, KindRecurring)
	if err != nil {
		return 0, err
	}
	recurring, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	res, err = s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, completed_at = ?, error_message = ?
		 WHERE status = ?`,
		StatusFailedPendingDelivery, s.now().UnixMilli(), "interrupted by a restart", StatusRunning)
	if err != nil {
		return int(recurring), err
	}
	oneShot, err := res.RowsAffected()
	return int(recurring + oneShot), err
}

// RetryJob puts a failed job back on the schedule, due immediately.
func (s *Store) RetryJob(ctx context.Context, id string) (bool, error) {
	return s.guardedUpdate(ctx,
		`UPDATE jobs SET status = ?, run_at = ?, error_message = NULL,
		   completed_at = NULL, delivered_at = NULL
		 WHERE id = ? AND status IN (?, ?)`,
		StatusScheduled, s.now().UnixMilli(), id,
		StatusFailedPendingDelivery, StatusFailedDelivered)
}

// RescheduleRecurringJob records a successful run of a recurring job and
// computes the next occurrence. Returns false without mutation when the
// job is paused, and settles the job terminally (still false) when the
// run cap would be exceeded.
func (s *Store) RescheduleRecurringJob(ctx context.Context, id, deliveryText string) (bool, error) {
	return s.finishRecurring(ctx, id, deliveryText, "", false)
}

// RecordRecurringJobFailure is the failure counterpart of
// RescheduleRecurringJob: the cadence continues, the error is kept as the
// last outcome.
func (s *Store) RecordRecurringJobFailure(ctx context.Context, id, errMsg, deliveryText string) (bool, error) {
	return s.finishRecurring(ctx, id, deliveryText, errMsg, true)
}

func (s *Store) finishRecurring(ctx context.Context, id, deliveryText, errMsg string, failed bool) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if j.Kind != KindRecurring {
		return false, nil
	}
	if j.Status != StatusRunning && j.Status != StatusScheduled {
		return false, nil
	}
	if !j.RecurrenceEnabled {
		// Paused: leave the row untouched.
		return false, nil
	}

	now := s.now()
	newCount := j.RecurrenceRunCount + 1

	if j.RecurrenceMaxRuns != nil && newCount > *j.RecurrenceMaxRuns {
		// Run cap reached: settle terminally, run count unchanged.
		terminal := StatusCompletedPendingDelivery
		if failed {
			terminal = StatusFailedPendingDelivery
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, completed_at = ?, delivery_text = ?, error_message = ?
			 WHERE id = ?`,
			terminal, now.UnixMilli(), nullStr(deliveryText), nullStr(errMsg), id)
		if err != nil {
			return false, err
		}
		return false, tx.Commit()
	}

	next, err := recurrence.NextRunTime(recurrence.Type(j.RecurrenceType), j.RecurrenceExpression, now)
	if err != nil {
		return false, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, run_at = ?, recurrence_run_count = ?,
		   completed_at = ?, delivery_text = ?, error_message = ?
		 WHERE id = ?`,
		StatusScheduled, next.UnixMilli(), newCount,
		now.UnixMilli(), nullStr(deliveryText), nullStr(errMsg), id)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// PauseRecurringJob disables rescheduling; the job keeps its state but
// reschedule attempts become no-ops.
func (s *Store) PauseRecurringJob(ctx context.Context, id string) (bool, error) {
	return s.guardedUpdate(ctx,
		`UPDATE jobs SET recurrence_enabled = 0 WHERE id = ? AND kind = ?`, id, KindRecurring)
}

// ResumeRecurringJob re-enables a paused recurring job.
func (s *Store) ResumeRecurringJob(ctx context.Context, id string) (bool, error) {
	return s.guardedUpdate(ctx,
		`UPDATE jobs SET recurrence_enabled = 1 WHERE id = ? AND kind = ?`, id, KindRecurring)
}

// UpdateRecurrenceExpression swaps the schedule of a recurring job. The
// new expression is validated against the job's existing recurrence type
// before anything is written.
func (s *Store) UpdateRecurrenceExpression(ctx context.Context, id, expr string) error {
	j, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if j.Kind != KindRecurring {
		return fault.New(fault.InvalidState, "job %s is not recurring", id)
	}
	rt := recurrence.Type(j.RecurrenceType)
	if err := recurrence.ValidateExpression(rt, expr); err != nil {
		return err
	}
	next, err := recurrence.NextRunTime(rt, expr, s.now())
	if err != nil {
		return err
	}
	// Only a waiting job moves to the new cadence immediately; a running
	// one picks it up on its next reschedule.
	_, err = s.db.ExecContext(ctx,
		`UPDATE jobs SET recurrence_expression = ?,
		   run_at = CASE status WHEN ? THEN ? ELSE run_at END
		 WHERE id = ?`,
		expr, StatusScheduled, next.UnixMilli(), id)
	return err
}

// MuteJob suppresses user-visible delivery until the given time. The
// schedule itself is unaffected.
func (s *Store) MuteJob(ctx context.Context, id string, until time.Time) (bool, error) {
	return s.guardedUpdate(ctx,
		`UPDATE jobs SET muted_until = ? WHERE id = ?`, until.UnixMilli(), id)
}

// UnmuteJob clears a mute.
func (s *Store) UnmuteJob(ctx context.Context, id string) (bool, error) {
	return s.guardedUpdate(ctx,
		`UPDATE jobs SET muted_until = NULL WHERE id = ? AND muted_until IS NOT NULL`, id)
}

// MuteJobsByPattern mutes every job whose prompt or preview contains the
// given substring. Returns the number of jobs muted.
func (s *Store) MuteJobsByPattern(ctx context.Context, substring string, until time.Time) (int, error) {
	if substring == "" {
		return 0, fault.New(fault.BadRequest, "mute pattern must not be empty")
	}
	pattern := "%" + escapeLike(substring) + "%"
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET muted_until = ?
		 WHERE (payload_prompt LIKE ? ESCAPE '\' OR request_preview LIKE ? ESCAPE '\')`,
		until.UnixMilli(), pattern, pattern)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetMutedJobs returns jobs whose mute window is still open.
func (s *Store) GetMutedJobs(ctx context.Context) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE muted_until IS NOT NULL AND muted_until > ?
		 ORDER BY created_at DESC`,
		s.now().UnixMilli())
}

// CountJobsByStatus aggregates jobs per status for summaries.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[JobStatus]int{}
	for rows.Next() {
		var st JobStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// ClearAllJobs is the bulk administrative clear, the only path that
// physically deletes job rows.
func (s *Store) ClearAllJobs(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) guardedUpdate(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
