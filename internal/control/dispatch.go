package control

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/danitrap/ambrogio-agent-sub000/internal/fault"
	"github.com/danitrap/ambrogio-agent-sub000/internal/store"
)

type request struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

type response struct {
	OK     bool       `json:"ok"`
	Result any        `json:"result,omitempty"`
	Error  *respError `json:"error,omitempty"`
}

type respError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorResponse(err error) response {
	return response{OK: false, Error: &respError{
		Code:    string(fault.CodeOf(err)),
		Message: err.Error(),
	}}
}

type handlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// legacyOps maps the flat snake_case op names of the first protocol
// generation to their current dotted names. Same args, same results.
var legacyOps = map[string]string{
	"schedule_task": "jobs.create",
	"cancel_task":   "jobs.cancel",
	"retry_task":    "jobs.retry",
	"mute_task":     "jobs.mute",
	"list_tasks":    "jobs.list",

	"create_cron": "recurring.create",
	"pause_cron":  "recurring.pause",
	"resume_cron": "recurring.resume",
	"list_crons":  "recurring.list",
	"update_cron": "recurring.update_expression",

	"get_state":    "state.get",
	"set_state":    "state.set",
	"delete_state": "state.delete",
	"list_state":   "state.list",

	"remember":      "memory.set",
	"recall":        "memory.get",
	"forget":        "memory.delete",
	"search_memory": "memory.search",

	"get_history":    "conversation.history",
	"clear_history":  "conversation.clear",
	"export_history": "conversation.export",
	"history_stats":  "conversation.stats",

	"send_photo":    "media.send_photo",
	"send_audio":    "media.send_audio",
	"send_document": "media.send_document",
}

func (s *Server) buildOps() map[string]handlerFunc {
	return map[string]handlerFunc{
		"jobs.create":            s.handleJobCreate,
		"jobs.create_background": s.handleJobCreateBackground,
		"jobs.list":              s.handleJobList,
		"jobs.get":               s.handleJobGet,
		"jobs.cancel":            s.handleJobCancel,
		"jobs.retry":             s.handleJobRetry,
		"jobs.mute":              s.handleJobMute,
		"jobs.unmute":            s.handleJobUnmute,
		"jobs.mute_pattern":      s.handleJobMutePattern,
		"jobs.muted":             s.handleJobMuted,
		"jobs.clear":             s.handleJobClear,

		"recurring.create":            s.handleRecurringCreate,
		"recurring.list":              s.handleRecurringList,
		"recurring.pause":             s.handleRecurringPause,
		"recurring.resume":            s.handleRecurringResume,
		"recurring.update_expression": s.handleRecurringUpdateExpression,

		"state.get":    s.handleStateGet,
		"state.set":    s.handleStateSet,
		"state.delete": s.handleStateDelete,
		"state.list":   s.handleStateList,

		"memory.set":    s.handleMemorySet,
		"memory.get":    s.handleMemoryGet,
		"memory.delete": s.handleMemoryDelete,
		"memory.list":   s.handleMemoryList,
		"memory.search": s.handleMemorySearch,

		"conversation.history": s.handleConvoHistory,
		"conversation.clear":   s.handleConvoClear,
		"conversation.export":  s.handleConvoExport,
		"conversation.stats":   s.handleConvoStats,

		"media.send_photo":    s.handleSendPhoto,
		"media.send_audio":    s.handleSendAudio,
		"media.send_document": s.handleSendDocument,
	}
}

// decodeArgs strictly decodes op arguments; unknown fields are a
// client bug and get rejected rather than silently dropped.
func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fault.Wrap(fault.BadRequest, err, "invalid arguments")
	}
	return nil
}

func parseRFC3339(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fault.New(fault.InvalidTime, "%s must be RFC 3339: %v", field, err)
	}
	return t, nil
}

// jobView is the wire shape of a job. Timestamps go out as RFC 3339
// in the local zone, matching what callers feed in.
type jobView struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Status       string   `json:"status"`
	UserID       string   `json:"userId"`
	ChatID       string   `json:"chatId"`
	Prompt       string   `json:"prompt"`
	Preview      string   `json:"preview,omitempty"`
	RunAt        *string  `json:"runAt,omitempty"`
	CreatedAt    string   `json:"createdAt"`
	CompletedAt  *string  `json:"completedAt,omitempty"`
	DeliveredAt  *string  `json:"deliveredAt,omitempty"`
	DeliveryText string   `json:"deliveryText,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	MutedUntil   *string  `json:"mutedUntil,omitempty"`
	Recurrence   *recView `json:"recurrence,omitempty"`
}

type recView struct {
	Type       string `json:"type"`
	Expression string `json:"expression"`
	RunCount   int    `json:"runCount"`
	MaxRuns    *int   `json:"maxRuns,omitempty"`
	Enabled    bool   `json:"enabled"`
}

func viewJob(j *store.Job) jobView {
	v := jobView{
		ID:           j.ID,
		Kind:         string(j.Kind),
		Status:       string(j.Status),
		UserID:       j.UserID,
		ChatID:       j.ChatID,
		Prompt:       j.PayloadPrompt,
		Preview:      j.RequestPreview,
		CreatedAt:    j.CreatedAt.Format(time.RFC3339),
		DeliveryText: j.DeliveryText,
		ErrorMessage: j.ErrorMessage,
		RunAt:        timePtr(j.RunAt),
		CompletedAt:  timePtr(j.CompletedAt),
		DeliveredAt:  timePtr(j.DeliveredAt),
		MutedUntil:   timePtr(j.MutedUntil),
	}
	if j.Kind == store.KindRecurring {
		v.Recurrence = &recView{
			Type:       j.RecurrenceType,
			Expression: j.RecurrenceExpression,
			RunCount:   j.RecurrenceRunCount,
			MaxRuns:    j.RecurrenceMaxRuns,
			Enabled:    j.RecurrenceEnabled,
		}
	}
	return v
}

func viewJobs(jobs []*store.Job) []jobView {
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, viewJob(j))
	}
	return out
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
