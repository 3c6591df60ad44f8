package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danitrap/ambrogio-agent-sub000/internal/fault"
	"github.com/danitrap/ambrogio-agent-sub000/internal/recurrence"
	"github.com/danitrap/ambrogio-agent-sub000/pkg/logx"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "jobs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)
	s.now = func() time.Time { return now }
	return s, &now
}

func mustCreateDelayed(t *testing.T, s *Store, now time.Time, prompt string) *Job {
	t.Helper()
	j, err := s.CreateDelayedJob(context.Background(), "u1", "c1", prompt, prompt, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateDelayedJob: %v", err)
	}
	return j
}

func TestClaimScheduledJobSingleWinner(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	j := mustCreateDelayed(t, s, *now, "ping")

	won, err := s.ClaimScheduledJob(ctx, j.ID)
	if err != nil || !won {
		t.Fatalf("first claim = (%v, %v), want (true, nil)", won, err)
	}
	won, err = s.ClaimScheduledJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("second claim error: %v", err)
	}
	if won {
		t.Fatal("second claim won, want lost")
	}
}

func TestGetDueScheduledJobs(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	early := mustCreateDelayed(t, s, *now, "early")
	// Second job due 30 minutes later.
	late, err := s.CreateDelayedJob(ctx, "u1", "c1", "late", "late", now.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("CreateDelayedJob: %v", err)
	}

	due, err := s.GetDueScheduledJobs(ctx, 10)
	if err != nil {
		t.Fatalf("GetDueScheduledJobs: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("due before runAt = %d jobs, want 0", len(due))
	}

	*now = now.Add(2 * time.Hour)
	due, err = s.GetDueScheduledJobs(ctx, 10)
	if err != nil {
		t.Fatalf("GetDueScheduledJobs: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d jobs, want 2", len(due))
	}
	if due[0].ID != early.ID || due[1].ID != late.ID {
		t.Fatalf("due order = [%s %s], want earliest runAt first", due[0].ID, due[1].ID)
	}
}

func TestBackgroundJobHasNoDueTime(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	j, err := s.CreateBackgroundJob(ctx, "u1", "c1", "summarise", "summarise")
	if err != nil {
		t.Fatalf("CreateBackgroundJob: %v", err)
	}
	if j.RunAt != nil {
		t.Fatalf("background job runAt = %v, want nil", j.RunAt)
	}

	*now = now.Add(24 * time.Hour)
	due, err := s.GetDueScheduledJobs(ctx, 10)
	if err != nil {
		t.Fatalf("GetDueScheduledJobs: %v", err)
	}
	if len(due) != 0 {
		t.Fatal("background job showed up as due; the poll loop must never pick it up")
	}
}

func TestDelayedJobRejectsPastRunTime(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)

	_, err := s.CreateDelayedJob(context.Background(), "u1", "c1", "p", "p", now.Add(-time.Minute))
	if fault.CodeOf(err) != fault.InvalidTime {
		t.Fatalf("code = %s, want INVALID_TIME", fault.CodeOf(err))
	}
}

func TestMarkCompletedGuard(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	j := mustCreateDelayed(t, s, *now, "work")

	// Not yet running: the guard rejects the transition.
	ok, err := s.MarkCompleted(ctx, j.ID, "done")
	if err != nil || ok {
		t.Fatalf("MarkCompleted before claim = (%v, %v), want (false, nil)", ok, err)
	}

	if _, err := s.ClaimScheduledJob(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	// Canceled while running: the in-flight completion must be rejected.
	if res, err := s.CancelJob(ctx, j.ID); err != nil || res != CancelCanceled {
		t.Fatalf("CancelJob = (%v, %v)", res, err)
	}
	ok, err = s.MarkCompleted(ctx, j.ID, "done")
	if err != nil || ok {
		t.Fatalf("MarkCompleted after cancel = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestMarkDeliveredMirrorsPendingVariant(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	completed := mustCreateDelayed(t, s, *now, "ok-job")
	failed := mustCreateDelayed(t, s, *now, "bad-job")

	for _, id := range []string{completed.ID, failed.ID} {
		if _, err := s.ClaimScheduledJob(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.MarkCompleted(ctx, completed.ID, "result"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkFailed(ctx, failed.ID, "boom", ""); err != nil {
		t.Fatal(err)
	}

	for id, want := range map[string]JobStatus{
		completed.ID: StatusCompletedDelivered,
		failed.ID:    StatusFailedDelivered,
	} {
		ok, err := s.MarkDelivered(ctx, id)
		if err != nil || !ok {
			t.Fatalf("MarkDelivered(%s) = (%v, %v)", id, ok, err)
		}
		j, err := s.GetJob(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if j.Status != want {
			t.Errorf("status = %s, want %s", j.Status, want)
		}
		if j.DeliveredAt == nil {
			t.Error("deliveredAt not set")
		}
	}
}

func TestCancelJobResults(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	res, err := s.CancelJob(ctx, "nope")
	if err != nil || res != CancelNotFound {
		t.Fatalf("CancelJob(unknown) = (%v, %v), want not_found", res, err)
	}

	j := mustCreateDelayed(t, s, *now, "cancel-me")
	res, err = s.CancelJob(ctx, j.ID)
	if err != nil || res != CancelCanceled {
		t.Fatalf("CancelJob(scheduled) = (%v, %v), want canceled", res, err)
	}

	done := mustCreateDelayed(t, s, *now, "delivered")
	if _, err := s.ClaimScheduledJob(ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkCompleted(ctx, done.ID, "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkDelivered(ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	res, err = s.CancelJob(ctx, done.ID)
	if err != nil || res != CancelAlreadyDone {
		t.Fatalf("CancelJob(delivered) = (%v, %v), want already_done", res, err)
	}
}

func newRecurring(t *testing.T, s *Store, expr string, maxRuns *int) *Job {
	t.Helper()
	j, err := s.CreateRecurringJob(context.Background(), "u1", "c1", "report", "report",
		RecurringSpec{Type: recurrence.TypeInterval, Expression: expr, MaxRuns: maxRuns}, time.Time{})
	if err != nil {
		t.Fatalf("CreateRecurringJob: %v", err)
	}
	return j
}

func TestRescheduleRecurringJobRunCap(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	maxRuns := 2
	j := newRecurring(t, s, "30m", &maxRuns)

	for i := 1; i <= 2; i++ {
		if _, err := s.ClaimScheduledJob(ctx, j.ID); err != nil {
			t.Fatal(err)
		}
		ok, err := s.RescheduleRecurringJob(ctx, j.ID, "run")
		if err != nil || !ok {
			t.Fatalf("reschedule #%d = (%v, %v), want (true, nil)", i, ok, err)
		}
	}

	if _, err := s.ClaimScheduledJob(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	ok, err := s.RescheduleRecurringJob(ctx, j.ID, "run")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("third reschedule succeeded, want run-cap settle")
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RecurrenceRunCount != 2 {
		t.Errorf("runCount = %d, want 2", got.RecurrenceRunCount)
	}
	if got.Status != StatusCompletedPendingDelivery {
		t.Errorf("status = %s, want terminal completed_pending_delivery", got.Status)
	}
}

func TestPauseResumeRecurringJob(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	j := newRecurring(t, s, "30m", nil)

	if ok, err := s.PauseRecurringJob(ctx, j.ID); err != nil || !ok {
		t.Fatalf("PauseRecurringJob = (%v, %v)", ok, err)
	}
	before, _ := s.GetJob(ctx, j.ID)

	ok, err := s.RescheduleRecurringJob(ctx, j.ID, "run")
	if err != nil || ok {
		t.Fatalf("reschedule while paused = (%v, %v), want (false, nil)", ok, err)
	}
	after, _ := s.GetJob(ctx, j.ID)
	if after.RecurrenceRunCount != before.RecurrenceRunCount || after.Status != before.Status {
		t.Fatal("paused reschedule mutated the job")
	}

	if ok, err := s.ResumeRecurringJob(ctx, j.ID); err != nil || !ok {
		t.Fatalf("ResumeRecurringJob = (%v, %v)", ok, err)
	}
	ok, err = s.RescheduleRecurringJob(ctx, j.ID, "run")
	if err != nil || !ok {
		t.Fatalf("reschedule after resume = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestPauseNonRecurringJob(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)

	j := mustCreateDelayed(t, s, *now, "one-shot")
	ok, err := s.PauseRecurringJob(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("paused a non-recurring job")
	}
}

func TestMuteJobsByPattern(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	a := mustCreateDelayed(t, s, *now, "weather in Milan")
	b := mustCreateDelayed(t, s, *now, "check the weather tomorrow")
	c := mustCreateDelayed(t, s, *now, "stock prices")

	until := now.Add(6 * time.Hour)
	n, err := s.MuteJobsByPattern(ctx, "weather", until)
	if err != nil {
		t.Fatalf("MuteJobsByPattern: %v", err)
	}
	if n != 2 {
		t.Fatalf("muted %d jobs, want 2", n)
	}

	muted, err := s.GetMutedJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, j := range muted {
		ids[j.ID] = true
	}
	if !ids[a.ID] || !ids[b.ID] || ids[c.ID] {
		t.Fatalf("muted set = %v, want exactly the weather jobs", ids)
	}

	if ok, err := s.UnmuteJob(ctx, a.ID); err != nil || !ok {
		t.Fatalf("UnmuteJob = (%v, %v)", ok, err)
	}
	got, _ := s.GetJob(ctx, a.ID)
	if got.MutedUntil != nil {
		t.Fatal("unmute left mutedUntil set")
	}
}

func TestCreateRecurringCronRecomputesBadRunAt(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	// Past runAt: silently recomputed, not rejected.
	j, err := s.CreateRecurringJob(ctx, "u1", "c1", "digest", "digest",
		RecurringSpec{Type: recurrence.TypeCron, Expression: "0 9 * * *"}, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CreateRecurringJob: %v", err)
	}
	if j.RunAt == nil || !j.RunAt.After(*now) {
		t.Fatalf("runAt = %v, want recomputed future time", j.RunAt)
	}

	// Future runAt on the wrong weekday: recomputed to satisfy the
	// day-of-week constraint. 2025-03-11 is a Tuesday; expression wants
	// Mondays.
	tue := time.Date(2025, 3, 11, 9, 0, 0, 0, time.Local)
	j, err = s.CreateRecurringJob(ctx, "u1", "c1", "weekly", "weekly",
		RecurringSpec{Type: recurrence.TypeCron, Expression: "0 9 * * 1"}, tue)
	if err != nil {
		t.Fatalf("CreateRecurringJob: %v", err)
	}
	if j.RunAt == nil || j.RunAt.Weekday() != time.Monday {
		t.Fatalf("runAt = %v, want a Monday", j.RunAt)
	}
}

func TestCreateRecurringRejectsBadExpression(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	_, err := s.CreateRecurringJob(context.Background(), "u1", "c1", "p", "p",
		RecurringSpec{Type: recurrence.TypeInterval, Expression: "999999d"}, time.Time{})
	if fault.CodeOf(err) != fault.BadRequest {
		t.Fatalf("code = %s, want BAD_REQUEST", fault.CodeOf(err))
	}
}

func TestUpdateRecurrenceExpression(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	j := newRecurring(t, s, "30m", nil)

	// Validated against the job's existing type: a cron expression is not
	// a valid interval.
	err := s.UpdateRecurrenceExpression(ctx, j.ID, "0 9 * * *")
	if fault.CodeOf(err) != fault.BadRequest {
		t.Fatalf("cross-type update code = %s, want BAD_REQUEST", fault.CodeOf(err))
	}

	if err := s.UpdateRecurrenceExpression(ctx, j.ID, "2h"); err != nil {
		t.Fatalf("UpdateRecurrenceExpression: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.RecurrenceExpression != "2h" {
		t.Errorf("expression = %q, want 2h", got.RecurrenceExpression)
	}
	want := now.Add(2 * time.Hour)
	if got.RunAt == nil || !got.RunAt.Equal(want) {
		t.Errorf("runAt = %v, want %v", got.RunAt, want)
	}

	oneShot := mustCreateDelayed(t, s, *now, "x")
	err = s.UpdateRecurrenceExpression(ctx, oneShot.ID, "2h")
	if fault.CodeOf(err) != fault.InvalidState {
		t.Fatalf("non-recurring update code = %s, want INVALID_STATE", fault.CodeOf(err))
	}
}

func TestRetryJob(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	j := mustCreateDelayed(t, s, *now, "flaky")
	if _, err := s.ClaimScheduledJob(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkFailed(ctx, j.ID, "timeout", ""); err != nil {
		t.Fatal(err)
	}

	ok, err := s.RetryJob(ctx, j.ID)
	if err != nil || !ok {
		t.Fatalf("RetryJob = (%v, %v)", ok, err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != StatusScheduled {
		t.Errorf("status = %s, want scheduled", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Errorf("errorMessage = %q, want cleared", got.ErrorMessage)
	}

	// A scheduled job is not retryable.
	ok, err = s.RetryJob(ctx, j.ID)
	if err != nil || ok {
		t.Fatalf("RetryJob(scheduled) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestClearAllJobs(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	mustCreateDelayed(t, s, *now, "a")
	mustCreateDelayed(t, s, *now, "b")

	n, err := s.ClearAllJobs(ctx)
	if err != nil || n != 2 {
		t.Fatalf("ClearAllJobs = (%d, %v), want (2, nil)", n, err)
	}
	if _, err := s.GetJob(ctx, "anything"); fault.CodeOf(err) != fault.NotFound {
		t.Fatalf("GetJob after clear code = %s, want NOT_FOUND", fault.CodeOf(err))
	}
}

func TestRecoverInterruptedJobs(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	oneShot := mustCreateDelayed(t, s, *now, "lost to a crash")
	rec := newRecurring(t, s, "30m", nil)
	waiting := mustCreateDelayed(t, s, *now, "still waiting")

	for _, id := range []string{oneShot.ID, rec.ID} {
		if won, err := s.ClaimScheduledJob(ctx, id); err != nil || !won {
			t.Fatalf("claim %s = (%v, %v), want (true, nil)", id, won, err)
		}
	}

	n, err := s.RecoverInterruptedJobs(ctx)
	if err != nil {
		t.Fatalf("RecoverInterruptedJobs: %v", err)
	}
	if n != 2 {
		t.Errorf("repaired = %d, want 2", n)
	}

	got, err := s.GetJob(ctx, oneShot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailedPendingDelivery {
		t.Errorf("one-shot status = %s, want failed_pending_delivery", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Error("one-shot interruption left no error message")
	}

	got, err = s.GetJob(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusScheduled {
		t.Errorf("recurring status = %s, want scheduled", got.Status)
	}

	got, err = s.GetJob(ctx, waiting.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusScheduled {
		t.Errorf("waiting job status = %s, want scheduled (untouched)", got.Status)
	}

	n, err = s.RecoverInterruptedJobs(ctx)
	if err != nil || n != 0 {
		t.Errorf("second sweep = (%d, %v), want (0, nil)", n, err)
	}
}
