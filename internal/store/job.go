package store

import (
	"database/sql"
	"time"
)

// JobKind classifies how a job entered the system.
type JobKind string

const (
	KindBackground JobKind = "background"
	KindDelayed    JobKind = "delayed"
	KindRecurring  JobKind = "recurring"
)

// JobStatus is the persisted state-machine position of a job.
//
// Allowed transitions (every mutation is one guarded UPDATE):
//
//	scheduled -> running                                  (claim)
//	running   -> completed_pending_delivery               (success)
//	running   -> failed_pending_delivery                  (failure)
//	*_pending_delivery -> *_delivered                     (deliver)
//	scheduled|running|*_pending_delivery -> canceled      (cancel)
//	scheduled|running -> skipped_muted                    (one-shot mute skip)
//	running -> scheduled                                  (recurring reschedule)
type JobStatus string

const (
	StatusScheduled                JobStatus = "scheduled"
	StatusRunning                  JobStatus = "running"
	StatusCompletedPendingDelivery JobStatus = "completed_pending_delivery"
	StatusCompletedDelivered       JobStatus = "completed_delivered"
	StatusFailedPendingDelivery    JobStatus = "failed_pending_delivery"
	StatusFailedDelivered          JobStatus = "failed_delivered"
	StatusCanceled                 JobStatus = "canceled"
	StatusSkippedMuted             JobStatus = "skipped_muted"
)

// Job is the central scheduling entity.
type Job struct {
	ID     string
	Kind   JobKind
	Status JobStatus

	// Opaque routing identifiers; the engine never interprets them.
	UserID string
	ChatID string

	PayloadPrompt  string
	RunAt          *time.Time
	RequestPreview string

	CreatedAt   time.Time
	CompletedAt *time.Time
	DeliveredAt *time.Time

	DeliveryText string
	ErrorMessage string

	RecurrenceType       string
	RecurrenceExpression string
	RecurrenceMaxRuns    *int
	RecurrenceRunCount   int
	RecurrenceEnabled    bool

	MutedUntil *time.Time
}

// MutedAt reports whether delivery is suppressed at the given instant.
func (j *Job) MutedAt(t time.Time) bool {
	return j.MutedUntil != nil && j.MutedUntil.After(t)
}

const jobColumns = `id, kind, status, user_id, chat_id, payload_prompt, run_at,
	request_preview, created_at, completed_at, delivered_at, delivery_text,
	error_message, recurrence_type, recurrence_expression, recurrence_max_runs,
	recurrence_run_count, recurrence_enabled, muted_until`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j          Job
		prompt     sql.NullString
		runAt      sql.NullInt64
		createdAt  int64
		completed  sql.NullInt64
		delivered  sql.NullInt64
		deliveryTx sql.NullString
		errMsg     sql.NullString
		recType    sql.NullString
		recExpr    sql.NullString
		maxRuns    sql.NullInt64
		enabled    int
		mutedUntil sql.NullInt64
	)
	err := row.Scan(
		&j.ID, &j.Kind, &j.Status, &j.UserID, &j.ChatID, &prompt, &runAt,
		&j.RequestPreview, &createdAt, &completed, &delivered, &deliveryTx,
		&errMsg, &recType, &recExpr, &maxRuns, &j.RecurrenceRunCount,
		&enabled, &mutedUntil,
	)
	if err != nil {
		return nil, err
	}
	j.PayloadPrompt = prompt.String
	j.RunAt = msPtr(runAt)
	j.CreatedAt = time.UnixMilli(createdAt)
	j.CompletedAt = msPtr(completed)
	j.DeliveredAt = msPtr(delivered)
	j.DeliveryText = deliveryTx.String
	j.ErrorMessage = errMsg.String
	j.RecurrenceType = recType.String
	j.RecurrenceExpression = recExpr.String
	if maxRuns.Valid {
		n := int(maxRuns.Int64)
		j.RecurrenceMaxRuns = &n
	}
	j.RecurrenceEnabled = enabled != 0
	j.MutedUntil = msPtr(mutedUntil)
	return &j, nil
}

func msPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func msOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
