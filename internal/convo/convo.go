// Package convo keeps the per-chat conversation log. Each chat's history
// lives as one JSON array in the generic key-value table, so the log
// shares the job store's database handle and transactional discipline.
package convo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/danitrap/ambrogio-agent-sub000/internal/fault"
	"github.com/danitrap/ambrogio-agent-sub000/internal/store"
)

const keyPrefix = "conversation:"

// Message is one conversation turn.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Stats summarises a chat's history.
type Stats struct {
	Messages int            `json:"messages"`
	ByRole   map[string]int `json:"byRole"`
	FirstAt  *time.Time     `json:"firstAt,omitempty"`
	LastAt   *time.Time     `json:"lastAt,omitempty"`
}

// Log reads and writes conversation history for the RPC handlers and the
// agent service.
type Log struct {
	kv *store.Store
}

func New(kv *store.Store) *Log { return &Log{kv: kv} }

func key(chatID string) string { return keyPrefix + chatID }

// History returns the most recent limit messages (all when limit <= 0).
func (l *Log) History(ctx context.Context, chatID string, limit int) ([]Message, error) {
	msgs, err := l.load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Append adds one turn to the chat's history.
func (l *Log) Append(ctx context.Context, chatID, role, content string) error {
	msgs, err := l.load(ctx, chatID)
	if err != nil {
		return err
	}
	msgs = append(msgs, Message{Role: role, Content: content, At: time.Now()})
	b, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return l.kv.KVSet(ctx, key(chatID), string(b))
}

// Clear wipes the chat's history, reporting whether there was any.
func (l *Log) Clear(ctx context.Context, chatID string) (bool, error) {
	return l.kv.KVDelete(ctx, key(chatID))
}

// Export returns the raw stored JSON for the chat.
func (l *Log) Export(ctx context.Context, chatID string) (json.RawMessage, error) {
	raw, found, err := l.kv.KVGet(ctx, key(chatID))
	if err != nil {
		return nil, err
	}
	if !found {
		return json.RawMessage("[]"), nil
	}
	return json.RawMessage(raw), nil
}

// Stats aggregates message counts and the time range of the history.
func (l *Log) Stats(ctx context.Context, chatID string) (Stats, error) {
	msgs, err := l.load(ctx, chatID)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Messages: len(msgs), ByRole: map[string]int{}}
	for i := range msgs {
		st.ByRole[msgs[i].Role]++
	}
	if len(msgs) > 0 {
		first, last := msgs[0].At, msgs[len(msgs)-1].At
		st.FirstAt, st.LastAt = &first, &last
	}
	return st, nil
}

func (l *Log) load(ctx context.Context, chatID string) ([]Message, error) {
	raw, found, err := l.kv.KVGet(ctx, key(chatID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var msgs []Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fault.Wrap(fault.Internal, err, "corrupt conversation log for chat "+chatID)
	}
	return msgs, nil
}
