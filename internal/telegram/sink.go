package telegram

import (
	"context"
	"errors"
	"strings"

	"github.com/pokerjest/animeleech/internal/worker"
	log "github.com/sirupsen/logrus"
)

// MessageEditor is the client call a MessageSink needs.
type MessageEditor interface {
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *InlineKeyboardMarkup) error
}

// MessageSink renders job status by editing one chat message in place.
type MessageSink struct {
	editor    MessageEditor
	chatID    int64
	messageID int64
	keyboard  func([]worker.Action) *InlineKeyboardMarkup
}

func NewMessageSink(editor MessageEditor, chatID, messageID int64, keyboard func([]worker.Action) *InlineKeyboardMarkup) *MessageSink {
	return &MessageSink{editor: editor, chatID: chatID, messageID: messageID, keyboard: keyboard}
}

func (s *MessageSink) RenderProgress(ctx context.Context, text string, actions []worker.Action) error {
	return s.edit(ctx, text, actions)
}

func (s *MessageSink) RenderFinal(ctx context.Context, text string, actions []worker.Action) error {
	return s.edit(ctx, text, actions)
}

func (s *MessageSink) edit(ctx context.Context, text string, actions []worker.Action) error {
	var markup *InlineKeyboardMarkup
	if s.keyboard != nil && len(actions) > 0 {
		markup = s.keyboard(actions)
	}
	err := s.editor.EditMessageText(ctx, s.chatID, s.messageID, text, markup)
	if err == nil || isNotModified(err) {
		return nil
	}
	log.WithField("chat_id", s.chatID).Debugf("edit status message: %v", err)
	return err
}

func isNotModified(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified")
}
