package tasks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linecraftx/linecraft-bot/internal/analyzer"
	"github.com/linecraftx/linecraft-bot/internal/models"
	"github.com/linecraftx/linecraft-bot/internal/storage"
	"github.com/linecraftx/linecraft-bot/internal/telegram"
)

// fakeTelegram records every outbound call and hands out sequential ids.
type fakeTelegram struct {
	mu          sync.Mutex
	sent        []telegram.Outgoing
	deleted     []int
	chatActions int
	nextID      int
	files       map[string][]byte
	sendErr     error
}

func newFakeTelegram() *fakeTelegram {
	return &fakeTelegram{nextID: 1000, files: map[string][]byte{}}
}

func (f *fakeTelegram) SendMessage(msg telegram.Outgoing) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, msg)
	return f.nextID, nil
}

func (f *fakeTelegram) EditMessageText(chatID int64, messageID int, text string) error {
	return nil
}

func (f *fakeTelegram) DeleteMessage(chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTelegram) SendChatAction(chatID int64, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatActions++
	return nil
}

func (f *fakeTelegram) AnswerCallback(callbackID, text string) error { return nil }

func (f *fakeTelegram) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	data, ok := f.files[fileID]
	if !ok {
		return nil, errors.New("unknown file")
	}
	return data, nil
}

func (f *fakeTelegram) sentMessages() []telegram.Outgoing {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]telegram.Outgoing, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTelegram) chatActionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatActions
}

// stubAnalyzer returns canned results.
type stubAnalyzer struct {
	solution    *analyzer.Solution
	suggestions []analyzer.Suggestion
	ideas       []analyzer.DateIdea
	err         error

	lastAction models.Action
	lastRefine models.RefineType
	lastInput  analyzer.Input
}

func (s *stubAnalyzer) SolveQuestion(ctx context.Context, input analyzer.Input) (*analyzer.Solution, analyzer.Usage, error) {
	s.lastInput = input
	return s.solution, analyzer.Usage{Model: "stub", TotalTokens: 42}, s.err
}

func (s *stubAnalyzer) GenerateSuggestions(ctx context.Context, action models.Action, input analyzer.Input, refine models.RefineType) ([]analyzer.Suggestion, analyzer.Usage, error) {
	s.lastAction = action
	s.lastRefine = refine
	s.lastInput = input
	return s.suggestions, analyzer.Usage{Model: "stub", TotalTokens: 42}, s.err
}

func (s *stubAnalyzer) GenerateDateIdeas(ctx context.Context, input analyzer.Input, refine models.RefineType) ([]analyzer.DateIdea, analyzer.Usage, error) {
	s.lastRefine = refine
	s.lastInput = input
	return s.ideas, analyzer.Usage{Model: "stub", TotalTokens: 42}, s.err
}

func newTestExecutor(st storage.Storage, an analyzer.Analyzer, tg telegram.Client) *Executor {
	exec := NewExecutor(st, an, tg, zap.NewNop())
	exec.chatActionInterval = time.Millisecond
	exec.interMessageDelay = 0
	return exec
}

func seedAccountAndPhoto(t *testing.T, st *storage.MemoryStorage, chatID int64, telegramMessageID int) *models.Message {
	t.Helper()

	acc := &models.Account{TelegramUserID: 7, MessagesRemaining: 10, MessagesTotal: 50}
	st.PutAccount(acc)

	msg := &models.Message{
		AccountID:         acc.ID,
		ChatID:            chatID,
		TelegramMessageID: telegramMessageID,
		Role:              models.RoleUser,
		Type:              models.PhotoMessage,
		TelegramFileID:    "file-1",
	}
	require.NoError(t, st.CreateMessage(context.Background(), msg))
	return msg
}

func TestAnalyzeImageSolvesQuestion(t *testing.T) {
	st := storage.NewMemoryStorage()
	tg := newFakeTelegram()
	tg.files["file-1"] = []byte("jpeg bytes")

	boolAnswer := true
	an := &stubAnalyzer{solution: &analyzer.Solution{
		Classification: analyzer.ClassificationQuestion,
		Answer:         analyzer.Answer{Type: "boolean", BooleanAnswer: &boolAnswer, Confidence: 0.9},
		Justification:  "The statement holds for all inputs.",
	}}

	userMsg := seedAccountAndPhoto(t, st, 55, 100)
	exec := newTestExecutor(st, an, tg)

	err := exec.AnalyzeImage(context.Background(), AnalyzeImageArgs{
		ChatID:           55,
		ReplyToMessageID: 100,
		StatusMessageID:  101,
		FileID:           "file-1",
		Action:           models.ActionAnswerQuestion,
	})
	require.NoError(t, err)

	sent := tg.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(55), sent[0].ChatID)
	assert.Equal(t, 100, sent[0].ReplyToMessageID)
	assert.Contains(t, sent[0].Text, "Answer: true")
	assert.Contains(t, sent[0].Text, "Why: The statement holds")

	// Placeholder cleaned up after success.
	assert.Equal(t, []int{101}, tg.deleted)

	// The image was passed as a data URI.
	assert.True(t, strings.HasPrefix(an.lastInput.ImageDataURI, "data:image/jpeg;base64,"))

	// One assistant row, one usage row, one quota unit charged.
	assert.Equal(t, 2, st.MessageCount())
	assert.Equal(t, 1, st.TokenUsageCount(userMsg.AccountID))
	acc, err := st.GetAccountByID(context.Background(), userMsg.AccountID)
	require.NoError(t, err)
	assert.Equal(t, 9, acc.MessagesRemaining)
}

func TestAnalyzeImageNotAQuestion(t *testing.T) {
	st := storage.NewMemoryStorage()
	tg := newFakeTelegram()
	tg.files["file-1"] = []byte("jpeg bytes")

	an := &stubAnalyzer{solution: &analyzer.Solution{
		Classification: analyzer.ClassificationNotAQuestion,
		Answer:         analyzer.Answer{Type: "abstain"},
	}}

	userMsg := seedAccountAndPhoto(t, st, 55, 100)
	exec := newTestExecutor(st, an, tg)

	err := exec.AnalyzeImage(context.Background(), AnalyzeImageArgs{
		ChatID:           55,
		ReplyToMessageID: 100,
		FileID:           "file-1",
		Action:           models.ActionAnswerQuestion,
	})
	require.NoError(t, err)

	sent := tg.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, notAQuestionText, sent[0].Text)

	// No charge and no assistant row on the short circuit.
	assert.Equal(t, 1, st.MessageCount())
	assert.Equal(t, 0, st.TokenUsageCount(userMsg.AccountID))
	acc, err := st.GetAccountByID(context.Background(), userMsg.AccountID)
	require.NoError(t, err)
	assert.Equal(t, 10, acc.MessagesRemaining)
}

func TestAnalyzeImageSuggestionsChargePerItem(t *testing.T) {
	st := storage.NewMemoryStorage()
	tg := newFakeTelegram()
	tg.files["file-1"] = []byte("jpeg bytes")

	an := &stubAnalyzer{suggestions: []analyzer.Suggestion{
		{Text: "Line one"},
		{Text: "Line two"},
		{Text: "Line three"},
	}}

	userMsg := seedAccountAndPhoto(t, st, 55, 100)
	exec := newTestExecutor(st, an, tg)

	err := exec.AnalyzeImage(context.Background(), AnalyzeImageArgs{
		ChatID:           55,
		ReplyToMessageID: 100,
		FileID:           "file-1",
		Action:           models.ActionPickupLines,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ActionPickupLines, an.lastAction)

	sent := tg.sentMessages()
	require.Len(t, sent, 3)
	for _, msg := range sent {
		assert.Equal(t, 100, msg.ReplyToMessageID)
		require.NotNil(t, msg.ReplyMarkup)
	}

	// Three assistant rows, three usage rows, three quota units.
	assert.Equal(t, 4, st.MessageCount())
	assert.Equal(t, 3, st.TokenUsageCount(userMsg.AccountID))
	acc, err := st.GetAccountByID(context.Background(), userMsg.AccountID)
	require.NoError(t, err)
	assert.Equal(t, 7, acc.MessagesRemaining)
}

func TestAnalyzeImageAnalyzerFailureSendsApology(t *testing.T) {
	st := storage.NewMemoryStorage()
	tg := newFakeTelegram()
	tg.files["file-1"] = []byte("jpeg bytes")

	an := &stubAnalyzer{err: errors.New("model unavailable")}

	seedAccountAndPhoto(t, st, 55, 100)
	exec := newTestExecutor(st, an, tg)

	err := exec.AnalyzeImage(context.Background(), AnalyzeImageArgs{
		ChatID:           55,
		ReplyToMessageID: 100,
		StatusMessageID:  101,
		FileID:           "file-1",
		Action:           models.ActionAnswerQuestion,
	})
	require.Error(t, err)

	sent := tg.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, apologyText, sent[0].Text)

	// Placeholder stays so a retry can still clean it up.
	assert.Empty(t, tg.deleted)
	assert.Equal(t, 1, st.MessageCount())
}

func TestAnalyzeImageMissingOriginalStillReplies(t *testing.T) {
	st := storage.NewMemoryStorage()
	tg := newFakeTelegram()
	tg.files["file-1"] = []byte("jpeg bytes")

	boolAnswer := false
	an := &stubAnalyzer{solution: &analyzer.Solution{
		Classification: analyzer.ClassificationQuestion,
		Answer:         analyzer.Answer{Type: "boolean", BooleanAnswer: &boolAnswer},
	}}

	exec := newTestExecutor(st, an, tg)

	err := exec.AnalyzeImage(context.Background(), AnalyzeImageArgs{
		ChatID:           55,
		ReplyToMessageID: 100,
		FileID:           "file-1",
		Action:           models.ActionAnswerQuestion,
	})
	require.NoError(t, err)

	sent := tg.sentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Answer: false")

	// No account to attribute to, so nothing was persisted.
	assert.Equal(t, 0, st.MessageCount())
}

func TestAnalyzeTextSolvesQuestion(t *testing.T) {
	st := storage.NewMemoryStorage()
	tg := newFakeTelegram()

	short := "42"
	an := &stubAnalyzer{solution: &analyzer.Solution{
		Classification: analyzer.ClassificationQuestion,
		Answer:         analyzer.Answer{Type: "short_answer", ShortAnswer: &short},
	}}

	acc := &models.Account{TelegramUserID: 7, MessagesRemaining: 3}
	st.PutAccount(acc)
	require.NoError(t, st.CreateMessage(context.Background(), &models.Message{
		AccountID:         acc.ID,
		ChatID:            55,
		TelegramMessageID: 200,
		Role:              models.RoleUser,
		Type:              models.TextMessage,
		Text:              "What is six times seven?",
	}))

	exec := newTestExecutor(st, an, tg)
	err := exec.AnalyzeText(context.Background(), AnalyzeTextArgs{
		ChatID:           55,
		ReplyToMessageID: 200,
		Text:             "What is six times seven?",
	})
	require.NoError(t, err)

	assert.Equal(t, "What is six times seven?", an.lastInput.Text)
	sent := tg.sentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Answer: 42")
}

func TestProcessRefinementWalksReplyChain(t *testing.T) {
	st := storage.NewMemoryStorage()
	tg := newFakeTelegram()
	tg.files["file-1"] = []byte("jpeg bytes")

	an := &stubAnalyzer{suggestions: []analyzer.Suggestion{{Text: "Spicier line"}}}

	userMsg := seedAccountAndPhoto(t, st, 55, 100)
	assistant := &models.Message{
		AccountID:         userMsg.AccountID,
		ChatID:            55,
		TelegramMessageID: 101,
		Role:              models.RoleAssistant,
		Type:              models.TextMessage,
		Text:              "Original line",
		Action:            models.ActionPickupLines,
		ReplyToID:         &userMsg.ID,
	}
	require.NoError(t, st.CreateMessage(context.Background(), assistant))

	exec := newTestExecutor(st, an, tg)
	err := exec.ProcessRefinement(context.Background(), RefinementArgs{
		ChatID:            55,
		ReplyToMessageID:  101,
		OriginalMessageID: assistant.ID,
		RefineType:        models.RefineMoreSpicy,
	})
	require.NoError(t, err)

	assert.Equal(t, models.ActionPickupLines, an.lastAction)
	assert.Equal(t, models.RefineMoreSpicy, an.lastRefine)

	sent := tg.sentMessages()
	require.Len(t, sent, 1)
	// The refined line replies to the user's attachment, not the callback.
	assert.Equal(t, 100, sent[0].ReplyToMessageID)

	// The new row links back to the message it refines.
	refined, err := st.GetMessageByChatAndTelegramID(context.Background(), 55, 1001)
	require.NoError(t, err)
	require.NotNil(t, refined.RefinementOfID)
	assert.Equal(t, assistant.ID, *refined.RefinementOfID)
	assert.Equal(t, models.RefineMoreSpicy, refined.RefineType)
}

func TestProcessRefinementUnknownMessage(t *testing.T) {
	st := storage.NewMemoryStorage()
	tg := newFakeTelegram()
	an := &stubAnalyzer{}

	exec := newTestExecutor(st, an, tg)
	err := exec.ProcessRefinement(context.Background(), RefinementArgs{
		ChatID:            55,
		ReplyToMessageID:  101,
		OriginalMessageID: "missing",
		RefineType:        models.RefineLonger,
	})
	require.NoError(t, err)

	sent := tg.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, contextExpiredText, sent[0].Text)
}

func TestProcessRefinementBrokenChain(t *testing.T) {
	st := storage.NewMemoryStorage()
	tg := newFakeTelegram()
	an := &stubAnalyzer{}

	acc := &models.Account{TelegramUserID: 7, MessagesRemaining: 3}
	st.PutAccount(acc)
	// Assistant message with no reply link at all.
	assistant := &models.Message{
		AccountID:         acc.ID,
		ChatID:            55,
		TelegramMessageID: 101,
		Role:              models.RoleAssistant,
		Type:              models.TextMessage,
		Action:            models.ActionPickupLines,
	}
	require.NoError(t, st.CreateMessage(context.Background(), assistant))

	exec := newTestExecutor(st, an, tg)
	err := exec.ProcessRefinement(context.Background(), RefinementArgs{
		ChatID:            55,
		ReplyToMessageID:  101,
		OriginalMessageID: assistant.ID,
		RefineType:        models.RefineShorter,
	})
	require.NoError(t, err)

	sent := tg.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, contextExpiredText, sent[0].Text)
}

func TestChatActionStopsAfterWork(t *testing.T) {
	tg := newFakeTelegram()
	logger := zap.NewNop()

	err := withChatAction(tg, logger, 55, "typing", time.Millisecond, func() error {
		time.Sleep(10 * time.Millisecond)
		return errors.New("boom")
	})
	require.Error(t, err)

	// Indicator kept firing during the work.
	fired := tg.chatActionCount()
	assert.Greater(t, fired, 1)

	// After the work settles the sender is stopped.
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, tg.chatActionCount(), fired+1)
}

func TestDateIdeasFormatting(t *testing.T) {
	st := storage.NewMemoryStorage()
	tg := newFakeTelegram()
	tg.files["file-1"] = []byte("jpeg bytes")

	an := &stubAnalyzer{ideas: []analyzer.DateIdea{{
		Title:       "Picnic at the park",
		Category:    "outdoor",
		Vibe:        "relaxed",
		Description: "Pack snacks and find a sunny spot.",
		Details:     analyzer.DateIdeaDetails{LocationName: "Riverside Park"},
	}}}

	seedAccountAndPhoto(t, st, 55, 100)
	exec := newTestExecutor(st, an, tg)

	err := exec.AnalyzeImage(context.Background(), AnalyzeImageArgs{
		ChatID:           55,
		ReplyToMessageID: 100,
		FileID:           "file-1",
		Action:           models.ActionDateIdeas,
	})
	require.NoError(t, err)

	sent := tg.sentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Picnic at the park")
	assert.Contains(t, sent[0].Text, "Riverside Park")
	// Date ideas are informational and carry no refinement menu.
	assert.Nil(t, sent[0].ReplyMarkup)
}
