package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pokerjest/animeleech/internal/config"
	"github.com/pokerjest/animeleech/internal/uploader"
	"golang.org/x/time/rate"
)

const parseMode = "Markdown"

// Client is a small Bot API client. Message sends and edits share one rate
// limiter so progress updates cannot trip flood control.
type Client struct {
	api     *resty.Client
	upload  *resty.Client
	base    string
	token   string
	limiter *rate.Limiter
}

func NewClient(cfg config.TelegramConfig) *Client {
	base := strings.TrimSuffix(cfg.APIBase, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	limit := rate.Limit(cfg.EditRate)
	if cfg.EditRate <= 0 {
		limit = rate.Inf
	}
	burst := cfg.EditBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		// long polling holds the request open for pollTimeout
		api:     resty.New().SetTimeout(pollTimeout + 15*time.Second),
		upload:  resty.New(),
		base:    base,
		token:   cfg.Token,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.base, c.token, method)
}

func decode(resp *resty.Response, out interface{}) error {
	var body apiResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return fmt.Errorf("bad telegram response (status %s): %w", resp.Status(), err)
	}
	if !body.OK {
		apiErr := &APIError{Code: body.ErrorCode, Description: body.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode()
		}
		if body.Parameters != nil {
			apiErr.RetryAfter = body.Parameters.RetryAfter
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body.Result, out)
}

func (c *Client) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	resp, err := c.api.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(c.methodURL(method))
	if err != nil {
		return err
	}
	return decode(resp, out)
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]interface{}{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	return updates, err
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) (*Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": parseMode,
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	var msg Message
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *InlineKeyboardMarkup) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": parseMode,
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	return c.call(ctx, "editMessageText", payload, nil)
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]interface{}{
		"callback_query_id": callbackID,
		"text":              text,
	}, nil)
}

// SendDocument uploads doc as multipart form data. Errors are classified
// with the uploader taxonomy so the retry policy can act on them.
func (c *Client) SendDocument(ctx context.Context, chatID int64, doc uploader.Document) error {
	req := c.upload.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"chat_id":    strconv.FormatInt(chatID, 10),
			"caption":    doc.Caption,
			"parse_mode": parseMode,
		}).
		SetFileReader("document", doc.Name, doc.Body)
	if len(doc.Thumbnail) > 0 {
		req.SetFileReader("thumbnail", "thumb.jpg", bytes.NewReader(doc.Thumbnail))
	}

	resp, err := req.Post(c.methodURL("sendDocument"))
	if err != nil {
		return err
	}
	if err := decode(resp, nil); err != nil {
		if apiErr, ok := err.(*APIError); ok {
			return uploader.ClassifyStatus(apiErr.HTTPStatusCode(), apiErr.Description)
		}
		return err
	}
	return nil
}

func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var f File
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// DownloadFile fetches a file previously resolved with GetFile.
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	resp, err := c.api.R().SetContext(ctx).Get(fmt.Sprintf("%s/file/bot%s/%s", c.base, c.token, filePath))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("download %s: %s", filePath, resp.Status())
	}
	return resp.Body(), nil
}
