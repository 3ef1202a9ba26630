package tasks

import (
	"github.com/linecraftx/linecraft-bot/internal/models"
)

// Job args, one type per task kind. The kind strings and JSON field names are
// the wire contract between ingestion and the workers: in-flight jobs persist
// across deploys, so neither may change.

type AnalyzeImageArgs struct {
	ChatID int64 `json:"chat_id"`
	// ReplyToMessageID is the Telegram id of the inbound photo message;
	// the final answer replies to it.
	ReplyToMessageID int `json:"reply_to_message_id"`
	// StatusMessageID is the placeholder to delete on completion, 0 if none.
	StatusMessageID int           `json:"status_message_id,omitempty"`
	FileID          string        `json:"file_id"`
	Action          models.Action `json:"action"`
}

func (AnalyzeImageArgs) Kind() string { return "analyzeImage" }

type AnalyzeTextArgs struct {
	ChatID           int64  `json:"chat_id"`
	ReplyToMessageID int    `json:"reply_to_message_id"`
	StatusMessageID  int    `json:"status_message_id,omitempty"`
	Text             string `json:"text"`
}

func (AnalyzeTextArgs) Kind() string { return "analyzeText" }

type RefinementArgs struct {
	ChatID int64 `json:"chat_id"`
	// ReplyToMessageID is the Telegram id of the assistant message being
	// refined, used as a reply fallback.
	ReplyToMessageID int `json:"reply_to_message_id"`
	// OriginalMessageID is the stored id of that assistant message.
	OriginalMessageID string            `json:"original_message_id"`
	RefineType        models.RefineType `json:"refine_type"`
}

func (RefinementArgs) Kind() string { return "processMessageRefinement" }
