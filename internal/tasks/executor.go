// Package tasks holds the background workers that turn a queued job into a
// chat reply: fetch the attachment, call the analysis capability, persist the
// results and clean up the placeholder message.
package tasks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/linecraftx/linecraft-bot/internal/analyzer"
	"github.com/linecraftx/linecraft-bot/internal/models"
	"github.com/linecraftx/linecraft-bot/internal/storage"
	"github.com/linecraftx/linecraft-bot/internal/telegram"
)

const (
	apologyText        = "⚠️ Sorry, unable to process that. Please try again."
	notAQuestionText   = "🤔 That doesn't look like a question to me. Please send a photo of a single test question."
	contextExpiredText = "⚠️ I've lost the context for this image. Please upload it again."
)

type Executor struct {
	storage  storage.Storage
	analyzer analyzer.Analyzer
	tg       telegram.Client
	logger   *zap.Logger

	chatActionInterval time.Duration
	interMessageDelay  time.Duration
}

func NewExecutor(st storage.Storage, an analyzer.Analyzer, tg telegram.Client, logger *zap.Logger) *Executor {
	return &Executor{
		storage:            st,
		analyzer:           an,
		tg:                 tg,
		logger:             logger,
		chatActionInterval: 4 * time.Second,
		interMessageDelay:  300 * time.Millisecond,
	}
}

// actionRequest carries everything one capability run needs.
type actionRequest struct {
	chatID           int64
	replyToMessageID int
	action           models.Action
	input            analyzer.Input
	// original is the inbound user message; nil when attribution failed.
	original *models.Message
	// refinementOf is the assistant message being refined, nil otherwise.
	refinementOf *models.Message
	refineType   models.RefineType
}

// AnalyzeImage handles the analyzeImage task. Delivered at least once: a
// duplicate run sends a duplicate reply but cannot corrupt state, since all
// persisted rows are append-only and keyed by fresh message ids.
func (e *Executor) AnalyzeImage(ctx context.Context, args AnalyzeImageArgs) error {
	original, err := e.lookupOriginal(ctx, args.ChatID, args.ReplyToMessageID)
	if err != nil {
		return err
	}

	workErr := withChatAction(e.tg, e.logger, args.ChatID, tgbotapi.ChatTyping, e.chatActionInterval, func() error {
		data, err := e.tg.DownloadFile(ctx, args.FileID)
		if err != nil {
			return fmt.Errorf("failed to fetch attachment: %w", err)
		}

		return e.runAction(ctx, actionRequest{
			chatID:           args.ChatID,
			replyToMessageID: args.ReplyToMessageID,
			action:           args.Action,
			input:            analyzer.Input{ImageDataURI: imageDataURI(data)},
			original:         original,
		})
	})
	if workErr != nil {
		e.sendApology(args.ChatID)
		return workErr
	}

	e.deleteStatusMessage(args.ChatID, args.StatusMessageID)
	return nil
}

// AnalyzeText handles the analyzeText task: same shape as AnalyzeImage but
// the capability takes raw text and the action is always question solving.
func (e *Executor) AnalyzeText(ctx context.Context, args AnalyzeTextArgs) error {
	original, err := e.lookupOriginal(ctx, args.ChatID, args.ReplyToMessageID)
	if err != nil {
		return err
	}

	workErr := withChatAction(e.tg, e.logger, args.ChatID, tgbotapi.ChatTyping, e.chatActionInterval, func() error {
		return e.runAction(ctx, actionRequest{
			chatID:           args.ChatID,
			replyToMessageID: args.ReplyToMessageID,
			action:           models.ActionAnswerQuestion,
			input:            analyzer.Input{Text: args.Text},
			original:         original,
		})
	})
	if workErr != nil {
		e.sendApology(args.ChatID)
		return workErr
	}

	e.deleteStatusMessage(args.ChatID, args.StatusMessageID)
	return nil
}

// ProcessRefinement handles the processMessageRefinement task: re-run the
// capability that produced an assistant message, parameterized by the refine
// type, against the original user attachment recovered through the reply
// chain.
func (e *Executor) ProcessRefinement(ctx context.Context, args RefinementArgs) error {
	assistant, err := e.storage.GetMessageByID(ctx, args.OriginalMessageID)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Error("Message to refine no longer exists",
			zap.String("message_id", args.OriginalMessageID),
			zap.Int64("chat_id", args.ChatID))
		e.sendText(args.ChatID, args.ReplyToMessageID, contextExpiredText)
		return nil
	}
	if err != nil {
		return err
	}

	userMsg, err := e.resolveAttachment(ctx, assistant)
	if err != nil {
		return err
	}
	if userMsg == nil {
		e.logger.Error("No attachment resolvable through reply chain",
			zap.String("message_id", assistant.ID),
			zap.Int64("chat_id", args.ChatID))
		e.sendText(args.ChatID, args.ReplyToMessageID, contextExpiredText)
		return nil
	}

	workErr := withChatAction(e.tg, e.logger, args.ChatID, tgbotapi.ChatTyping, e.chatActionInterval, func() error {
		data, err := e.tg.DownloadFile(ctx, userMsg.TelegramFileID)
		if err != nil {
			return fmt.Errorf("failed to fetch attachment: %w", err)
		}

		return e.runAction(ctx, actionRequest{
			chatID:           args.ChatID,
			replyToMessageID: userMsg.TelegramMessageID,
			action:           assistant.Action,
			input:            analyzer.Input{ImageDataURI: imageDataURI(data)},
			original:         userMsg,
			refinementOf:     assistant,
			refineType:       args.RefineType,
		})
	})
	if workErr != nil {
		e.sendApology(args.ChatID)
		return workErr
	}
	return nil
}

func (e *Executor) runAction(ctx context.Context, req actionRequest) error {
	switch req.action {
	case models.ActionAnswerQuestion:
		return e.solveQuestion(ctx, req)

	case models.ActionPickupLines, models.ActionConvoStarters, models.ActionConvoReplies:
		suggestions, usage, err := e.analyzer.GenerateSuggestions(ctx, req.action, req.input, req.refineType)
		if err != nil {
			return err
		}
		replies := make([]string, len(suggestions))
		for i, s := range suggestions {
			replies[i] = s.Text
		}
		return e.sendGeneratedReplies(ctx, req, replies, usage)

	case models.ActionDateIdeas:
		ideas, usage, err := e.analyzer.GenerateDateIdeas(ctx, req.input, req.refineType)
		if err != nil {
			return err
		}
		replies := make([]string, len(ideas))
		for i, idea := range ideas {
			replies[i] = formatDateIdea(idea)
		}
		return e.sendGeneratedReplies(ctx, req, replies, usage)

	default:
		return fmt.Errorf("unknown action: %s", req.action)
	}
}

func (e *Executor) solveQuestion(ctx context.Context, req actionRequest) error {
	sol, usage, err := e.analyzer.SolveQuestion(ctx, req.input)
	if err != nil {
		return err
	}

	// Not a question: one corrective reply, no quota charge, task succeeds.
	if sol.Classification == analyzer.ClassificationNotAQuestion {
		e.logger.Info("Input classified as not a question",
			zap.Int64("chat_id", req.chatID),
			zap.Int("message_id", req.replyToMessageID))
		_, err := e.tg.SendMessage(telegram.Outgoing{
			ChatID:           req.chatID,
			Text:             notAQuestionText,
			ReplyToMessageID: req.replyToMessageID,
		})
		return err
	}

	text := formatSolution(sol)
	sentID, err := e.tg.SendMessage(telegram.Outgoing{
		ChatID:           req.chatID,
		Text:             text,
		ReplyToMessageID: req.replyToMessageID,
	})
	if err != nil {
		return err
	}

	analysis, err := json.Marshal(sol)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}
	return e.persistCompletion(ctx, req, sentID, text, analysis, usage)
}

// sendGeneratedReplies sends one reply per generated item, pacing sends so
// the chat shows them in order, and charges one quota unit per item.
func (e *Executor) sendGeneratedReplies(ctx context.Context, req actionRequest, replies []string, usage analyzer.Usage) error {
	for i, text := range replies {
		out := telegram.Outgoing{
			ChatID:           req.chatID,
			Text:             telegram.EscapeMarkdown(text),
			ParseMode:        tgbotapi.ModeMarkdownV2,
			ReplyToMessageID: req.replyToMessageID,
		}
		if req.action == models.ActionPickupLines {
			out.ReplyMarkup = telegram.RefinementMenu()
		}

		sentID, err := e.tg.SendMessage(out)
		if err != nil {
			return err
		}
		if err := e.persistCompletion(ctx, req, sentID, text, nil, usage); err != nil {
			return err
		}

		if i < len(replies)-1 {
			select {
			case <-time.After(e.interMessageDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// persistCompletion records the assistant message, the usage ledger entry and
// the quota decrement. The three writes are issued concurrently and are not
// one transaction: a crash in between leaves them partially applied, matching
// the send-first design.
func (e *Executor) persistCompletion(ctx context.Context, req actionRequest, sentMessageID int, text string, analysis json.RawMessage, usage analyzer.Usage) error {
	if req.original == nil {
		e.logger.Warn("Skipping persistence, reply has no account attribution",
			zap.Int64("chat_id", req.chatID),
			zap.Int("message_id", sentMessageID))
		return nil
	}

	accountID := req.original.AccountID
	msg := &models.Message{
		AccountID:         accountID,
		ChatID:            req.chatID,
		TelegramMessageID: sentMessageID,
		Role:              models.RoleAssistant,
		Type:              models.TextMessage,
		Text:              text,
		Analysis:          analysis,
		Action:            req.action,
		ReplyToID:         &req.original.ID,
	}
	if req.refinementOf != nil {
		msg.RefinementOfID = &req.refinementOf.ID
		msg.RefineType = req.refineType
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.storage.CreateMessage(gctx, msg) })
	g.Go(func() error {
		return e.storage.CreateTokenUsage(gctx, &models.TokenUsage{
			AccountID:    accountID,
			Model:        usage.Model,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			TotalTokens:  usage.TotalTokens,
		})
	})
	g.Go(func() error { return e.storage.DecrementMessagesRemaining(gctx, accountID) })
	return g.Wait()
}

// lookupOriginal finds the inbound message a job refers to. A missing row is
// logged and tolerated so the reply still goes out.
func (e *Executor) lookupOriginal(ctx context.Context, chatID int64, telegramMessageID int) (*models.Message, error) {
	original, err := e.storage.GetMessageByChatAndTelegramID(ctx, chatID, telegramMessageID)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Warn("Original message not found, proceeding without attribution",
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", telegramMessageID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return original, nil
}

// resolveAttachment walks the reply chain until it finds the message carrying
// the uploaded file. Returns nil when the chain is broken.
func (e *Executor) resolveAttachment(ctx context.Context, msg *models.Message) (*models.Message, error) {
	cur := msg
	for depth := 0; depth < 10 && cur.ReplyToID != nil; depth++ {
		next, err := e.storage.GetMessageByID(ctx, *cur.ReplyToID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		cur = next
		if cur.TelegramFileID != "" {
			return cur, nil
		}
	}
	return nil, nil
}

func (e *Executor) sendApology(chatID int64) {
	if _, err := e.tg.SendMessage(telegram.Outgoing{ChatID: chatID, Text: apologyText}); err != nil {
		e.logger.Error("Failed to send apology message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (e *Executor) sendText(chatID int64, replyTo int, text string) {
	if _, err := e.tg.SendMessage(telegram.Outgoing{ChatID: chatID, Text: text, ReplyToMessageID: replyTo}); err != nil {
		e.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

// deleteStatusMessage removes the "Working..." placeholder. An already
// deleted message is not an error worth failing the task over.
func (e *Executor) deleteStatusMessage(chatID int64, statusMessageID int) {
	if statusMessageID == 0 {
		return
	}
	if err := e.tg.DeleteMessage(chatID, statusMessageID); err != nil {
		e.logger.Warn("Failed to delete status message",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", statusMessageID))
	}
}

func imageDataURI(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}
