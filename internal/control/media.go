package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danitrap/ambrogio-agent-sub000/internal/fault"
)

type mediaKind string

const (
	mediaPhoto    mediaKind = "photo"
	mediaAudio    mediaKind = "audio"
	mediaDocument mediaKind = "document"
)

var photoExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

var audioExts = map[string]bool{
	".mp3": true, ".ogg": true, ".oga": true, ".m4a": true, ".wav": true, ".flac": true,
}

func (s *Server) handleSendPhoto(ctx context.Context, args json.RawMessage) (any, error) {
	return s.sendMedia(ctx, args, mediaPhoto)
}

func (s *Server) handleSendAudio(ctx context.Context, args json.RawMessage) (any, error) {
	return s.sendMedia(ctx, args, mediaAudio)
}

func (s *Server) handleSendDocument(ctx context.Context, args json.RawMessage) (any, error) {
	return s.sendMedia(ctx, args, mediaDocument)
}

func (s *Server) sendMedia(ctx context.Context, args json.RawMessage, kind mediaKind) (any, error) {
	var a struct {
		Path     string `json:"path"`
		ChatID   string `json:"chatId"`
		FileName string `json:"fileName"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, fault.New(fault.BadRequest, "path is required")
	}

	path, err := s.resolveMediaPath(a.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fault.New(fault.NotFound, "no file at %s", a.Path)
		}
		return nil, fault.Wrap(fault.Internal, err, "stat media file")
	}
	if info.IsDir() {
		return nil, fault.New(fault.BadRequest, "%s is a directory", a.Path)
	}
	if limit := s.mediaLimit(kind); info.Size() > limit {
		return nil, fault.New(fault.PayloadTooLarge,
			"%s is %d bytes, %s limit is %d", a.Path, info.Size(), kind, limit)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch kind {
	case mediaPhoto:
		if !photoExts[ext] {
			return nil, fault.New(fault.UnsupportedMedia, "%q is not a supported photo format", ext)
		}
	case mediaAudio:
		if !audioExts[ext] {
			return nil, fault.New(fault.UnsupportedMedia, "%q is not a supported audio format", ext)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "open media file")
	}
	defer f.Close()

	fileName := a.FileName
	if fileName == "" {
		fileName = filepath.Base(path)
	}
	chatID := s.defaultChat(a.ChatID)

	var send func(context.Context, string, io.Reader, string) (int, error)
	switch kind {
	case mediaPhoto:
		send = s.msgr.SendPhoto
	case mediaAudio:
		send = s.msgr.SendAudio
	default:
		send = s.msgr.SendDocument
	}
	msgID, err := send(ctx, chatID, f, fileName)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "media dispatch failed")
	}
	return map[string]any{
		"messageId": msgID,
		"fileName":  fileName,
		"bytes":     info.Size(),
		"sentAt":    time.Now().Format(time.RFC3339),
	}, nil
}

// resolveMediaPath canonicalises the requested path and rejects anything
// that escapes the configured media root, symlinks included.
func (s *Server) resolveMediaPath(p string) (string, error) {
	if s.cfg.MediaRoot == "" {
		return "", fault.New(fault.ForbiddenPath, "media dispatch is disabled: no media root configured")
	}
	root, err := filepath.Abs(s.cfg.MediaRoot)
	if err != nil {
		return "", fault.Wrap(fault.Internal, err, "resolve media root")
	}
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}

	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	// Resolve symlinks on the deepest existing ancestor so a link cannot
	// smuggle the path outside the root.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			resolved = abs
		} else {
			return "", fault.Wrap(fault.Internal, err, "resolve media path")
		}
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fault.New(fault.ForbiddenPath, "%s is outside the media root", p)
	}
	return resolved, nil
}

func (s *Server) mediaLimit(kind mediaKind) int64 {
	switch kind {
	case mediaPhoto:
		return s.cfg.MaxPhotoBytes
	case mediaAudio:
		return s.cfg.MaxAudioBytes
	default:
		return s.cfg.MaxDocumentBytes
	}
}
