package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linecraftx/linecraft-bot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

const pgUniqueViolation = "23505"

type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage wraps an open database handle and ensures the schema
// exists. The handle is shared with the job queue, which runs on the same
// database.
func NewPostgresStorage(db *sql.DB) (*PostgresStorage, error) {
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	_, err = s.db.Exec(string(migrationSQL))
	if err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

const accountColumns = `id, telegram_user_id, telegram_first_name, telegram_last_name,
		telegram_username, telegram_language_code, telegram_is_premium,
		provider, provider_pk, email_address, full_name,
		messages_remaining, messages_total, subscription_status, subscription_period_end,
		stripe_customer_id, stripe_subscription_id, default_tone, created_at, deleted_at`

func (s *PostgresStorage) scanAccount(row *sql.Row) (*models.Account, error) {
	acc := &models.Account{}
	var telegramUserID sql.NullInt64
	err := row.Scan(
		&acc.ID,
		&telegramUserID,
		&acc.TelegramFirstName,
		&acc.TelegramLastName,
		&acc.TelegramUsername,
		&acc.TelegramLanguageCode,
		&acc.TelegramIsPremium,
		&acc.Provider,
		&acc.ProviderPK,
		&acc.EmailAddress,
		&acc.FullName,
		&acc.MessagesRemaining,
		&acc.MessagesTotal,
		&acc.SubscriptionStatus,
		&acc.SubscriptionPeriodEnd,
		&acc.StripeCustomerID,
		&acc.StripeSubscriptionID,
		&acc.DefaultTone,
		&acc.CreatedAt,
		&acc.DeletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning account: %v", err)
	}
	if telegramUserID.Valid {
		acc.TelegramUserID = telegramUserID.Int64
	}
	return acc, nil
}

func (s *PostgresStorage) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND deleted_at IS NULL`
	return s.scanAccount(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStorage) GetAccountByTelegramID(ctx context.Context, telegramUserID int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE telegram_user_id = $1 AND deleted_at IS NULL`
	return s.scanAccount(s.db.QueryRowContext(ctx, query, telegramUserID))
}

func (s *PostgresStorage) GetAccountByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE stripe_customer_id = $1 AND deleted_at IS NULL`
	return s.scanAccount(s.db.QueryRowContext(ctx, query, customerID))
}

func (s *PostgresStorage) GetOrCreateTelegramAccount(ctx context.Context, acc NewTelegramAccount) (*models.Account, error) {
	existing, err := s.GetAccountByTelegramID(ctx, acc.TelegramUserID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	query := `
		INSERT INTO accounts (id, telegram_user_id, telegram_first_name, telegram_last_name,
			telegram_username, telegram_language_code, telegram_is_premium,
			messages_remaining, messages_total, subscription_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, 'none')
		ON CONFLICT (telegram_user_id) DO NOTHING`

	id := uuid.New().String()
	if _, err := s.db.ExecContext(ctx, query,
		id,
		acc.TelegramUserID,
		acc.TelegramFirstName,
		acc.TelegramLastName,
		acc.TelegramUsername,
		acc.TelegramLanguageCode,
		acc.TelegramIsPremium,
		acc.FreeMessages,
	); err != nil {
		return nil, fmt.Errorf("error creating account: %v", err)
	}

	// Re-read so a concurrent first contact resolves to the same row.
	return s.GetAccountByTelegramID(ctx, acc.TelegramUserID)
}

func (s *PostgresStorage) SetStripeCustomerID(ctx context.Context, accountID, customerID string) error {
	query := `UPDATE accounts SET stripe_customer_id = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, customerID, accountID); err != nil {
		return fmt.Errorf("error setting stripe customer id: %v", err)
	}
	return nil
}

func (s *PostgresStorage) UpdateSubscription(ctx context.Context, accountID string, upd SubscriptionUpdate) error {
	query := `
		UPDATE accounts
		SET subscription_status = $1,
			subscription_period_end = $2,
			stripe_subscription_id = COALESCE(NULLIF($3, ''), stripe_subscription_id),
			messages_remaining = CASE WHEN $4 > 0 THEN $4 ELSE messages_remaining END,
			messages_total = CASE WHEN $4 > 0 THEN $4 ELSE messages_total END
		WHERE id = $5`

	result, err := s.db.ExecContext(ctx, query,
		upd.Status, upd.PeriodEnd, upd.StripeSubscriptionID, upd.ResetQuota, accountID)
	if err != nil {
		return fmt.Errorf("error updating subscription: %v", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) UpdateDefaultTone(ctx context.Context, accountID, tone string) error {
	query := `UPDATE accounts SET default_tone = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, tone, accountID); err != nil {
		return fmt.Errorf("error updating default tone: %v", err)
	}
	return nil
}

func (s *PostgresStorage) SoftDeleteAccount(ctx context.Context, accountID string) error {
	query := `UPDATE accounts SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, accountID); err != nil {
		return fmt.Errorf("error deleting account: %v", err)
	}
	return nil
}

// DecrementMessagesRemaining decrements in place; the counter floors at zero.
func (s *PostgresStorage) DecrementMessagesRemaining(ctx context.Context, accountID string) error {
	query := `UPDATE accounts SET messages_remaining = GREATEST(messages_remaining - 1, 0) WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, accountID); err != nil {
		return fmt.Errorf("error decrementing messages remaining: %v", err)
	}
	return nil
}

func (s *PostgresStorage) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	query := `
		INSERT INTO messages (id, account_id, chat_id, telegram_message_id, role, type,
			telegram_file_id, text, analysis, action, reply_to_id, refinement_of_id, refine_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		msg.ID,
		msg.AccountID,
		msg.ChatID,
		msg.TelegramMessageID,
		msg.Role,
		msg.Type,
		msg.TelegramFileID,
		msg.Text,
		nullableJSON(msg.Analysis),
		msg.Action,
		msg.ReplyToID,
		msg.RefinementOfID,
		msg.RefineType,
	).Scan(&msg.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicateMessage
	}
	if err != nil {
		return fmt.Errorf("error creating message: %v", err)
	}
	return nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

const messageColumns = `id, account_id, chat_id, telegram_message_id, role, type,
		telegram_file_id, text, analysis, action, reply_to_id, refinement_of_id, refine_type, created_at`

func (s *PostgresStorage) scanMessage(row *sql.Row) (*models.Message, error) {
	msg := &models.Message{}
	var analysis []byte
	err := row.Scan(
		&msg.ID,
		&msg.AccountID,
		&msg.ChatID,
		&msg.TelegramMessageID,
		&msg.Role,
		&msg.Type,
		&msg.TelegramFileID,
		&msg.Text,
		&analysis,
		&msg.Action,
		&msg.ReplyToID,
		&msg.RefinementOfID,
		&msg.RefineType,
		&msg.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning message: %v", err)
	}
	msg.Analysis = analysis
	return msg, nil
}

func (s *PostgresStorage) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	return s.scanMessage(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStorage) GetMessageByChatAndTelegramID(ctx context.Context, chatID int64, telegramMessageID int) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE chat_id = $1 AND telegram_message_id = $2`
	return s.scanMessage(s.db.QueryRowContext(ctx, query, chatID, telegramMessageID))
}

func (s *PostgresStorage) CreateTokenUsage(ctx context.Context, usage *models.TokenUsage) error {
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}

	query := `
		INSERT INTO token_usage (id, account_id, model, input_tokens, output_tokens, total_tokens)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		usage.ID,
		usage.AccountID,
		usage.Model,
		usage.InputTokens,
		usage.OutputTokens,
		usage.TotalTokens,
	).Scan(&usage.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating token usage: %v", err)
	}
	return nil
}

func (s *PostgresStorage) SumTokenUsageSince(ctx context.Context, accountID string, since time.Time) (int64, error) {
	query := `SELECT COALESCE(SUM(total_tokens), 0) FROM token_usage WHERE account_id = $1 AND created_at >= $2`

	var total int64
	if err := s.db.QueryRowContext(ctx, query, accountID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("error summing token usage: %v", err)
	}
	return total, nil
}

func (s *PostgresStorage) CreateBillingEvent(ctx context.Context, event *models.BillingEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	query := `
		INSERT INTO billing_events (id, stripe_event_id, type, data)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		event.ID, event.StripeEventID, event.Type, []byte(event.Data),
	).Scan(&event.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating billing event: %v", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
