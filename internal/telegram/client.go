// Package telegram wraps the bot API behind a small interface so handlers and
// workers can be exercised against a fake in tests. The real client is built
// once at startup and shared by reference.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Outgoing describes one message send.
type Outgoing struct {
	ChatID           int64
	Text             string
	ReplyToMessageID int
	ParseMode        string
	ReplyMarkup      *tgbotapi.InlineKeyboardMarkup
}

type Client interface {
	// SendMessage sends a message and returns its Telegram message id.
	SendMessage(msg Outgoing) (int, error)
	EditMessageText(chatID int64, messageID int, text string) error
	DeleteMessage(chatID int64, messageID int) error
	SendChatAction(chatID int64, action string) error
	AnswerCallback(callbackID, text string) error
	// DownloadFile fetches the raw bytes of an uploaded file by file id.
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// BotClient is the production Client backed by one *tgbotapi.BotAPI.
type BotClient struct {
	api  *tgbotapi.BotAPI
	http *http.Client
}

func NewBotClient(api *tgbotapi.BotAPI) *BotClient {
	return &BotClient{
		api:  api,
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *BotClient) SendMessage(msg Outgoing) (int, error) {
	m := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	m.ReplyToMessageID = msg.ReplyToMessageID
	m.ParseMode = msg.ParseMode
	if msg.ReplyMarkup != nil {
		m.ReplyMarkup = *msg.ReplyMarkup
	}

	sent, err := c.api.Send(m)
	if err != nil {
		return 0, fmt.Errorf("failed to send message: %w", err)
	}
	return sent.MessageID, nil
}

func (c *BotClient) EditMessageText(chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := c.api.Request(edit); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

func (c *BotClient) DeleteMessage(chatID int64, messageID int) error {
	del := tgbotapi.NewDeleteMessage(chatID, messageID)
	if _, err := c.api.Request(del); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (c *BotClient) SendChatAction(chatID int64, action string) error {
	chatAction := tgbotapi.NewChatAction(chatID, action)
	if _, err := c.api.Request(chatAction); err != nil {
		return fmt.Errorf("failed to send chat action: %w", err)
	}
	return nil
}

func (c *BotClient) AnswerCallback(callbackID, text string) error {
	callback := tgbotapi.NewCallback(callbackID, text)
	if _, err := c.api.Request(callback); err != nil {
		return fmt.Errorf("failed to answer callback query: %w", err)
	}
	return nil
}

func (c *BotClient) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(c.api.Token), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch file: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

var _ Client = (*BotClient)(nil)

// EscapeMarkdown escapes special characters for MarkdownV2.
func EscapeMarkdown(text string) string {
	specialChars := []string{"_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}
