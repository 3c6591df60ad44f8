package control

import (
	"context"
	"encoding/json"

	"github.com/danitrap/ambrogio-agent-sub000/internal/fault"
)

func (s *Server) handleStateGet(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Key string `json:"key"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Key == "" {
		return nil, fault.New(fault.BadRequest, "key is required")
	}
	value, ok, err := s.st.KVGet(ctx, a.Key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.New(fault.NotFound, "key %q not found", a.Key)
	}
	return map[string]any{"key": a.Key, "value": value}, nil
}

func (s *Server) handleStateSet(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Key == "" {
		return nil, fault.New(fault.BadRequest, "key is required")
	}
	if err := s.st.KVSet(ctx, a.Key, a.Value); err != nil {
		return nil, err
	}
	return map[string]any{"key": a.Key}, nil
}

func (s *Server) handleStateDelete(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Key string `json:"key"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	deleted, err := s.st.KVDelete(ctx, a.Key)
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": deleted}, nil
}

func (s *Server) handleStateList(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Pattern string `json:"pattern"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	entries, err := s.st.KVList(ctx, a.Pattern)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return map[string]any{"keys": keys}, nil
}

func (s *Server) handleMemorySet(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Key == "" {
		return nil, fault.New(fault.BadRequest, "key is required")
	}
	if err := s.mem.Set(ctx, a.Key, a.Value); err != nil {
		return nil, err
	}
	return map[string]any{"key": a.Key}, nil
}

func (s *Server) handleMemoryGet(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Key string `json:"key"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	entry, err := s.mem.Get(ctx, a.Key)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Server) handleMemoryDelete(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Key string `json:"key"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	deleted, err := s.mem.Delete(ctx, a.Key)
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": deleted}, nil
}

func (s *Server) handleMemoryList(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Pattern string `json:"pattern"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	entries, err := s.mem.List(ctx, a.Pattern)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entries": entries}, nil
}

func (s *Server) handleMemorySearch(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Query == "" {
		return nil, fault.New(fault.BadRequest, "query is required")
	}
	entries, err := s.mem.Search(ctx, a.Query)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entries": entries}, nil
}
