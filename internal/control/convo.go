package control

import (
	"context"
	"encoding/json"
)

func (s *Server) handleConvoHistory(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		ChatID string `json:"chatId"`
		Limit  int    `json:"limit"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	msgs, err := s.conv.History(ctx, s.defaultChat(a.ChatID), a.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"messages": msgs}, nil
}

func (s *Server) handleConvoClear(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		ChatID string `json:"chatId"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	cleared, err := s.conv.Clear(ctx, s.defaultChat(a.ChatID))
	if err != nil {
		return nil, err
	}
	return map[string]any{"cleared": cleared}, nil
}

func (s *Server) handleConvoExport(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		ChatID string `json:"chatId"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	raw, err := s.conv.Export(ctx, s.defaultChat(a.ChatID))
	if err != nil {
		return nil, err
	}
	return map[string]any{"messages": raw}, nil
}

func (s *Server) handleConvoStats(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		ChatID string `json:"chatId"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	stats, err := s.conv.Stats(ctx, s.defaultChat(a.ChatID))
	if err != nil {
		return nil, err
	}
	return stats, nil
}
