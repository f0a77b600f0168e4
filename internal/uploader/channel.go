package uploader

import "context"

// DocumentSender is the chat client call the channel destination needs.
type DocumentSender interface {
	SendDocument(ctx context.Context, chatID int64, doc Document) error
}

// ChannelTransport posts documents into a fixed chat (the bot's channel).
type ChannelTransport struct {
	sender DocumentSender
	chatID int64
}

func NewChannelTransport(sender DocumentSender, chatID int64) *ChannelTransport {
	return &ChannelTransport{sender: sender, chatID: chatID}
}

func (c *ChannelTransport) Send(ctx context.Context, doc Document) error {
	return c.sender.SendDocument(ctx, c.chatID, doc)
}
