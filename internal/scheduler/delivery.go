package scheduler

import (
	"context"

	"github.com/danitrap/ambrogio-agent-sub000/internal/fault"
	"github.com/danitrap/ambrogio-agent-sub000/internal/store"
	"github.com/danitrap/ambrogio-agent-sub000/pkg/logx"
)

// deliverPending attempts to deliver a job currently in a
// pending-delivery status. On any send failure the job simply stays
// pending; the retry pass picks it up later.
func (s *Service) deliverPending(ctx context.Context, id string) {
	if ctx.Err() != nil {
		// Shutting down; the job is already settled as pending and the
		// retry pass delivers it after restart.
		return
	}
	j, err := s.st.GetJob(ctx, id)
	if err != nil {
		if !fault.Is(err, fault.NotFound) {
			s.log.Error("delivery lookup failed", logx.String("job_id", id), logx.Err(err))
		}
		return
	}
	s.deliverJob(ctx, j)
}

func (s *Service) deliverJob(ctx context.Context, j *store.Job) {
	if j.Status != store.StatusCompletedPendingDelivery && j.Status != store.StatusFailedPendingDelivery {
		return
	}
	if j.MutedAt(s.now()) {
		// Still muted: hold the result until the mute window closes.
		return
	}

	text := j.DeliveryText
	if j.Status == store.StatusFailedPendingDelivery {
		text = failureText(j.ErrorMessage, j)
	}
	if text == "" {
		text = "Job \"" + j.RequestPreview + "\" finished with no output."
	}

	if !s.sendResult(ctx, j.ChatID, text) {
		return
	}
	if _, err := s.st.MarkDelivered(ctx, j.ID); err != nil {
		s.log.Error("mark delivered failed", logx.String("job_id", j.ID), logx.Err(err))
	}
}

// sendResult pushes one message through the rate limiter and the
// messenger. Returns false on any failure.
func (s *Service) sendResult(ctx context.Context, chatID, text string) bool {
	if err := s.limiter.Wait(ctx); err != nil {
		return false
	}
	if err := s.msgr.SendMessage(ctx, chatID, text); err != nil {
		s.log.Warn("delivery failed, will retry", logx.String("chat_id", chatID), logx.Err(err))
		return false
	}
	return true
}

// deliveryRetryPass re-attempts every job whose result has not reached
// the user yet.
func (s *Service) deliveryRetryPass(ctx context.Context) {
	pending, err := s.st.ListPendingDeliveryJobs(ctx, s.cfg.BatchLimit)
	if err != nil {
		s.log.Error("pending-delivery query failed", logx.Err(err))
		return
	}
	for _, j := range pending {
		if ctx.Err() != nil {
			return
		}
		s.deliverJob(ctx, j)
	}
}
