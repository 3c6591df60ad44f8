package scheduler

import (
	"context"
	"time"

	"github.com/danitrap/ambrogio-agent-sub000/internal/executor"
	"github.com/danitrap/ambrogio-agent-sub000/internal/store"
	"github.com/danitrap/ambrogio-agent-sub000/pkg/logx"
)

// settleTimeout bounds the outcome write of a run whose loop context is
// already gone.
const settleTimeout = 10 * time.Second

// settleContext detaches a store write from loop cancellation. A claimed
// job must reach a terminal status even when the service is stopping;
// writing with the canceled loop context would strand the row in running.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// executeClaimed runs one job the service just claimed.
func (s *Service) executeClaimed(ctx context.Context, j *store.Job) {
	log := s.log.With(logx.String("job_id", j.ID), logx.String("kind", string(j.Kind)))

	if j.MutedAt(s.now()) {
		wctx, cancel := settleContext(ctx)
		defer cancel()
		// Mute suppresses the user-visible side only. Recurring jobs keep
		// their cadence; one-shot jobs settle without delivery.
		if j.Kind == store.KindRecurring {
			if _, err := s.st.RescheduleRecurringJob(wctx, j.ID, mutedDeliveryMarker); err != nil {
				log.Error("muted reschedule failed", logx.Err(err))
			} else {
				log.Debug("muted recurring run skipped")
			}
			return
		}
		if _, err := s.st.MarkSkippedMuted(wctx, j.ID); err != nil {
			log.Error("mute skip failed", logx.Err(err))
		} else {
			log.Debug("muted one-shot job skipped")
		}
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	res, err := s.exec.Execute(execCtx, executor.Request{
		Prompt:   j.PayloadPrompt,
		UserID:   j.UserID,
		ChatID:   j.ChatID,
		Headless: true,
	})
	cancel()

	if err != nil || !res.OK {
		errMsg := "agent reported failure"
		if err != nil {
			errMsg = err.Error()
		}
		log.Warn("job execution failed", logx.String("err_msg", errMsg))
		s.recordFailure(ctx, j, errMsg, res.Text)
		return
	}

	log.Info("job executed")
	s.recordSuccess(ctx, j, res.Text)
}

func (s *Service) recordSuccess(ctx context.Context, j *store.Job, text string) {
	wctx, cancel := settleContext(ctx)
	defer cancel()

	if j.Kind == store.KindRecurring {
		rescheduled, err := s.st.RescheduleRecurringJob(wctx, j.ID, text)
		if err != nil {
			s.log.Error("reschedule failed", logx.String("job_id", j.ID), logx.Err(err))
			return
		}
		if rescheduled {
			// Mid-cadence runs deliver directly; the row is already back
			// on the schedule.
			s.sendResult(ctx, j.ChatID, text)
			return
		}
		// Run cap reached: the job settled into pending delivery.
		s.deliverPending(ctx, j.ID)
		return
	}

	if ok, err := s.st.MarkCompleted(wctx, j.ID, text); err != nil || !ok {
		// Canceled mid-run; the guard already rejected the transition.
		s.log.Debug("completion discarded", logx.String("job_id", j.ID), logx.Err(err))
		return
	}
	s.deliverPending(ctx, j.ID)
}

func (s *Service) recordFailure(ctx context.Context, j *store.Job, errMsg, text string) {
	wctx, cancel := settleContext(ctx)
	defer cancel()

	if j.Kind == store.KindRecurring {
		rescheduled, err := s.st.RecordRecurringJobFailure(wctx, j.ID, errMsg, text)
		if err != nil {
			s.log.Error("failure reschedule failed", logx.String("job_id", j.ID), logx.Err(err))
			return
		}
		if rescheduled {
			s.sendResult(ctx, j.ChatID, failureText(errMsg, j))
			return
		}
		s.deliverPending(ctx, j.ID)
		return
	}

	if ok, err := s.st.MarkFailed(wctx, j.ID, errMsg, text); err != nil || !ok {
		s.log.Debug("failure discarded", logx.String("job_id", j.ID), logx.Err(err))
		return
	}
	s.deliverPending(ctx, j.ID)
}

func failureText(errMsg string, j *store.Job) string {
	return "Job \"" + j.RequestPreview + "\" failed: " + errMsg
}
