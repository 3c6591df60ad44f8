// Package transport defines the outbound messaging surface the engine
// depends on. Chat identifiers are opaque strings; only the concrete
// adapter interprets them.
package transport

import (
	"context"
	"io"
)

// Messenger delivers job results and media to the user.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, text string) error
	SendPhoto(ctx context.Context, chatID string, content io.Reader, fileName string) (messageID int, err error)
	SendAudio(ctx context.Context, chatID string, content io.Reader, fileName string) (messageID int, err error)
	SendDocument(ctx context.Context, chatID string, content io.Reader, fileName string) (messageID int, err error)

	// AuthorizedChatID is the owner chat used when a caller does not
	// name one explicitly.
	AuthorizedChatID() string
}
