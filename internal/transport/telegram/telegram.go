// Package telegram implements transport.Messenger on top of the Telegram
// Bot API.
package telegram

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/danitrap/ambrogio-agent-sub000/pkg/logx"
)

type Config struct {
	Token string
	// OwnerChatID is the authorized chat results go to by default.
	OwnerChatID int64
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) AuthorizedChatID() string {
	return strconv.FormatInt(a.cfg.OwnerChatID, 10)
}

func (a *Adapter) SendMessage(ctx context.Context, chatID, text string) error {
	to, err := recipient(chatID)
	if err != nil {
		return err
	}
	_, err = a.bot.Send(to, text)
	if err != nil {
		a.log.Warn("telegram send failed", logx.String("chat_id", chatID), logx.Err(err))
	}
	return err
}

func (a *Adapter) SendPhoto(ctx context.Context, chatID string, content io.Reader, fileName string) (int, error) {
	return a.sendFile(chatID, &tele.Photo{File: tele.FromReader(content)}, fileName)
}

func (a *Adapter) SendAudio(ctx context.Context, chatID string, content io.Reader, fileName string) (int, error) {
	return a.sendFile(chatID, &tele.Audio{File: tele.FromReader(content), FileName: fileName}, fileName)
}

func (a *Adapter) SendDocument(ctx context.Context, chatID string, content io.Reader, fileName string) (int, error) {
	return a.sendFile(chatID, &tele.Document{File: tele.FromReader(content), FileName: fileName}, fileName)
}

func (a *Adapter) sendFile(chatID string, what any, fileName string) (int, error) {
	to, err := recipient(chatID)
	if err != nil {
		return 0, err
	}
	msg, err := a.bot.Send(to, what)
	if err != nil {
		a.log.Warn("telegram media send failed",
			logx.String("chat_id", chatID), logx.String("file", fileName), logx.Err(err))
		return 0, err
	}
	return msg.ID, nil
}

func recipient(chatID string) (tele.Recipient, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, errors.New("invalid telegram chat id: " + chatID)
	}
	return &tele.Chat{ID: id}, nil
}
