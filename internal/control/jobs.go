package control

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/danitrap/ambrogio-agent-sub000/internal/fault"
	"github.com/danitrap/ambrogio-agent-sub000/internal/recurrence"
	"github.com/danitrap/ambrogio-agent-sub000/internal/store"
)

const previewMax = 120

func makePreview(prompt, preview string) string {
	if preview != "" {
		return preview
	}
	p := strings.TrimSpace(prompt)
	if len(p) > previewMax {
		p = p[:previewMax]
	}
	return p
}

func (s *Server) defaultChat(chatID string) string {
	if chatID != "" {
		return chatID
	}
	return s.msgr.AuthorizedChatID()
}

func (s *Server) handleJobCreate(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		UserID  string `json:"userId"`
		ChatID  string `json:"chatId"`
		Prompt  string `json:"prompt"`
		Preview string `json:"preview"`
		RunAt   string `json:"runAt"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.RunAt == "" {
		return nil, fault.New(fault.BadRequest, "runAt is required")
	}
	runAt, err := parseRFC3339("runAt", a.RunAt)
	if err != nil {
		return nil, err
	}
	j, err := s.st.CreateDelayedJob(ctx, a.UserID, s.defaultChat(a.ChatID),
		a.Prompt, makePreview(a.Prompt, a.Preview), runAt)
	if err != nil {
		return nil, err
	}
	return viewJob(j), nil
}

func (s *Server) handleJobCreateBackground(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		UserID  string `json:"userId"`
		ChatID  string `json:"chatId"`
		Prompt  string `json:"prompt"`
		Preview string `json:"preview"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	j, err := s.st.CreateBackgroundJob(ctx, a.UserID, s.defaultChat(a.ChatID),
		a.Prompt, makePreview(a.Prompt, a.Preview))
	if err != nil {
		return nil, err
	}
	return viewJob(j), nil
}

func (s *Server) handleJobList(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Limit int `json:"limit"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	jobs, err := s.st.ListJobs(ctx, a.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"jobs": viewJobs(jobs)}, nil
}

func (s *Server) handleJobGet(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	j, err := s.st.GetJob(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return viewJob(j), nil
}

func (s *Server) handleJobCancel(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	res, err := s.st.CancelJob(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": string(res)}, nil
}

func (s *Server) handleJobRetry(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	ok, err := s.st.RetryJob(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Distinguish a missing job from one not in a failed state.
		if _, err := s.st.GetJob(ctx, a.ID); err != nil {
			return nil, err
		}
		return nil, fault.New(fault.InvalidState, "only failed jobs can be retried")
	}
	j, err := s.st.GetJob(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return viewJob(j), nil
}

func (s *Server) handleJobMute(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		ID    string `json:"id"`
		Until string `json:"until"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	until, err := parseRFC3339("until", a.Until)
	if err != nil {
		return nil, err
	}
	if !until.After(time.Now()) {
		return nil, fault.New(fault.InvalidTime, "until must be in the future")
	}
	ok, err := s.st.MuteJob(ctx, a.ID, until)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.New(fault.NotFound, "job %s not found", a.ID)
	}
	return map[string]any{"muted": true, "until": until.Format(time.RFC3339)}, nil
}

func (s *Server) handleJobUnmute(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	ok, err := s.st.UnmuteJob(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Distinguish a missing job from one that was never muted; the
		// latter is an idempotent no-op.
		if _, err := s.st.GetJob(ctx, a.ID); err != nil {
			return nil, err
		}
	}
	return map[string]any{"unmuted": ok}, nil
}

func (s *Server) handleJobMutePattern(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Pattern string `json:"pattern"`
		Until   string `json:"until"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	until, err := parseRFC3339("until", a.Until)
	if err != nil {
		return nil, err
	}
	if !until.After(time.Now()) {
		return nil, fault.New(fault.InvalidTime, "until must be in the future")
	}
	n, err := s.st.MuteJobsByPattern(ctx, a.Pattern, until)
	if err != nil {
		return nil, err
	}
	return map[string]any{"muted": n}, nil
}

func (s *Server) handleJobMuted(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct{}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	jobs, err := s.st.GetMutedJobs(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"jobs": viewJobs(jobs)}, nil
}

func (s *Server) handleJobClear(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct{}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	n, err := s.st.ClearAllJobs(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"cleared": n}, nil
}

func (s *Server) handleRecurringCreate(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		UserID     string `json:"userId"`
		ChatID     string `json:"chatId"`
		Prompt     string `json:"prompt"`
		Preview    string `json:"preview"`
		Type       string `json:"type"`
		Expression string `json:"expression"`
		MaxRuns    *int   `json:"maxRuns"`
		RunAt      string `json:"runAt"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	var rt recurrence.Type
	switch a.Type {
	case string(recurrence.TypeInterval):
		rt = recurrence.TypeInterval
	case string(recurrence.TypeCron):
		rt = recurrence.TypeCron
	default:
		return nil, fault.New(fault.BadRequest, "type must be %q or %q",
			recurrence.TypeInterval, recurrence.TypeCron)
	}
	var runAt time.Time
	if a.RunAt != "" {
		t, err := parseRFC3339("runAt", a.RunAt)
		if err != nil {
			return nil, err
		}
		runAt = t
	}
	spec := store.RecurringSpec{Type: rt, Expression: a.Expression, MaxRuns: a.MaxRuns}
	j, err := s.st.CreateRecurringJob(ctx, a.UserID, s.defaultChat(a.ChatID),
		a.Prompt, makePreview(a.Prompt, a.Preview), spec, runAt)
	if err != nil {
		return nil, err
	}
	return viewJob(j), nil
}

func (s *Server) handleRecurringList(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct{}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	jobs, err := s.st.ListRecurringJobs(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"jobs": viewJobs(jobs)}, nil
}

func (s *Server) handleRecurringPause(ctx context.Context, args json.RawMessage) (any, error) {
	return s.toggleRecurring(ctx, args, s.st.PauseRecurringJob)
}

func (s *Server) handleRecurringResume(ctx context.Context, args json.RawMessage) (any, error) {
	return s.toggleRecurring(ctx, args, s.st.ResumeRecurringJob)
}

func (s *Server) toggleRecurring(ctx context.Context, args json.RawMessage, apply func(context.Context, string) (bool, error)) (any, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	ok, err := apply(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		j, err := s.st.GetJob(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if j.Kind != store.KindRecurring {
			return nil, fault.New(fault.InvalidState, "job %s is not recurring", a.ID)
		}
	}
	j, err := s.st.GetJob(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return viewJob(j), nil
}

func (s *Server) handleRecurringUpdateExpression(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		ID         string `json:"id"`
		Expression string `json:"expression"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := s.st.UpdateRecurrenceExpression(ctx, a.ID, a.Expression); err != nil {
		return nil, err
	}
	j, err := s.st.GetJob(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return viewJob(j), nil
}
