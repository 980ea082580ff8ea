package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/events"
	"github.com/zaihebian/LeadGenNewVersion/internal/model"
	"github.com/zaihebian/LeadGenNewVersion/pkg/outbox"
)

var ErrThreadNotFound = errors.New("email thread not found")

type ThreadRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewThreadRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *ThreadRepository {
	return &ThreadRepository{db: db, outbox: outboxRepo, logger: logger}
}

const threadColumns = `
        id, public_id, lead_id, mail_thread_id, mail_message_id, subject,
        messages, reply_sentiment, has_reply, requires_human,
        created_at, updated_at, last_checked_at
`

func scanThread(row pgx.Row) (*model.EmailThread, error) {
	var t model.EmailThread
	var messagesJSON []byte
	err := row.Scan(
		&t.ID,
		&t.PublicID,
		&t.LeadID,
		&t.MailThreadID,
		&t.MailMessageID,
		&t.Subject,
		&messagesJSON,
		&t.ReplySentiment,
		&t.HasReply,
		&t.RequiresHuman,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.LastCheckedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(messagesJSON) > 0 {
		if err := json.Unmarshal(messagesJSON, &t.Messages); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// Create stores a new thread for a lead, usually right after the first send.
func (r *ThreadRepository) Create(ctx context.Context, t *model.EmailThread) (int64, error) {
	if t.PublicID == uuid.Nil {
		t.PublicID = uuid.New()
	}
	if t.ReplySentiment == "" {
		t.ReplySentiment = model.SentimentUnknown
	}

	messagesJSON, err := json.Marshal(t.Messages)
	if err != nil {
		return 0, err
	}

	query := `
        INSERT INTO email_threads (public_id, lead_id, mail_thread_id, mail_message_id,
                                   subject, messages, reply_sentiment, has_reply, requires_human)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	var id int64
	err = r.db.QueryRow(ctx, query,
		t.PublicID,
		t.LeadID,
		t.MailThreadID,
		t.MailMessageID,
		t.Subject,
		messagesJSON,
		t.ReplySentiment,
		t.HasReply,
		t.RequiresHuman,
	).Scan(&id)
	if err != nil {
		r.logger.Error("Failed to insert email thread",
			zap.Error(err),
			zap.Int64("lead_id", t.LeadID),
		)
		return 0, err
	}

	t.ID = id
	r.logger.Info("Email thread created",
		zap.Int64("thread_id", id),
		zap.Int64("lead_id", t.LeadID),
		zap.String("public_id", t.PublicID.String()),
	)
	return id, nil
}

func (r *ThreadRepository) GetByID(ctx context.Context, id int64) (*model.EmailThread, error) {
	query := `SELECT ` + threadColumns + ` FROM email_threads WHERE id = $1`

	t, err := scanThread(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	return t, nil
}

func (r *ThreadRepository) ListByLead(ctx context.Context, leadID int64) ([]*model.EmailThread, error) {
	query := `
        SELECT ` + threadColumns + `
        FROM email_threads
        WHERE lead_id = $1
        ORDER BY created_at ASC
    `
	rows, err := r.db.Query(ctx, query, leadID)
	if err != nil {
		r.logger.Error("Failed to query threads for lead",
			zap.Error(err),
			zap.Int64("lead_id", leadID),
		)
		return nil, err
	}
	defer rows.Close()

	threads := []*model.EmailThread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			r.logger.Error("Failed to scan thread row", zap.Error(err))
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// ListUncheckedForLeads returns reply-candidate threads: no recorded reply
// yet, belonging to leads in the two awaiting-reply states.
func (r *ThreadRepository) ListUncheckedForLeads(ctx context.Context, limit int) ([]*model.EmailThread, error) {
	query := `
        SELECT ` + threadColumns + `
        FROM email_threads t
        WHERE t.has_reply = FALSE
          AND EXISTS (
              SELECT 1 FROM leads l
              WHERE l.id = t.lead_id AND l.state IN ($1, $2)
          )
        ORDER BY t.last_checked_at ASC NULLS FIRST
        LIMIT $3
    `
	rows, err := r.db.Query(ctx, query, model.StateEmailed1, model.StateEmailed2, limit)
	if err != nil {
		r.logger.Error("Failed to query unchecked threads", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	threads := []*model.EmailThread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// SaveMessages rewrites the message log and checkpoint after a fetch or an
// appended send.
func (r *ThreadRepository) SaveMessages(ctx context.Context, t *model.EmailThread) error {
	messagesJSON, err := json.Marshal(t.Messages)
	if err != nil {
		return err
	}

	query := `
        UPDATE email_threads
        SET messages = $1, last_checked_at = $2, updated_at = NOW()
        WHERE id = $3
    `
	now := time.Now().UTC()
	_, err = r.db.Exec(ctx, query, messagesJSON, now, t.ID)
	if err != nil {
		r.logger.Error("Failed to save thread messages",
			zap.Error(err),
			zap.Int64("thread_id", t.ID),
		)
		return err
	}
	t.LastCheckedAt = &now
	return nil
}

// RecordReply sets has_reply and the sentiment, and emits a
// lead.reply.received event through the outbox in the same transaction.
// has_reply is monotonic and never reverts.
func (r *ThreadRepository) RecordReply(ctx context.Context, t *model.EmailThread, sentiment model.ReplySentiment, confidence string) error {
	messagesJSON, err := json.Marshal(t.Messages)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
        UPDATE email_threads
        SET has_reply = TRUE, reply_sentiment = $1, messages = $2,
            last_checked_at = NOW(), updated_at = NOW()
        WHERE id = $3
    `
	if _, err := tx.Exec(ctx, query, sentiment, messagesJSON, t.ID); err != nil {
		r.logger.Error("Failed to record reply",
			zap.Error(err),
			zap.Int64("thread_id", t.ID),
		)
		return err
	}

	payload := events.LeadReplyReceivedPayload{
		LeadID:     t.LeadID,
		ThreadID:   t.ID,
		Sentiment:  sentiment.String(),
		Confidence: confidence,
		ReceivedAt: time.Now().UTC(),
	}
	if err := outbox.InsertEventInTx(ctx, tx, r.outbox, "email_thread", &t.ID, events.KeyLeadReplyReceived, payload); err != nil {
		r.logger.Error("Failed to insert reply event into outbox",
			zap.Error(err),
			zap.Int64("thread_id", t.ID),
		)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	t.HasReply = true
	t.ReplySentiment = sentiment
	return nil
}

// MarkHumanRequired flags every thread of a lead for operator attention and
// emits one lead.requires_human event. requires_human is monotonic.
func (r *ThreadRepository) MarkHumanRequired(ctx context.Context, leadID int64, sentiment model.ReplySentiment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
        UPDATE email_threads
        SET requires_human = TRUE, reply_sentiment = $2, updated_at = NOW()
        WHERE lead_id = $1 AND requires_human = FALSE
    `
	result, err := tx.Exec(ctx, query, leadID, sentiment.String())
	if err != nil {
		r.logger.Error("Failed to flag threads for human attention",
			zap.Error(err),
			zap.Int64("lead_id", leadID),
		)
		return err
	}

	var name, email string
	err = tx.QueryRow(ctx,
		`SELECT first_name || ' ' || last_name, email FROM leads WHERE id = $1`,
		leadID,
	).Scan(&name, &email)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	payload := events.LeadRequiresHumanPayload{
		LeadID:    leadID,
		LeadName:  name,
		LeadEmail: email,
		Reason:    "reply classified as " + sentiment.String(),
		At:        time.Now().UTC(),
	}
	if err := outbox.InsertEventInTx(ctx, tx, r.outbox, "lead", &leadID, events.KeyLeadRequiresHuman, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.Info("Threads flagged for human attention",
		zap.Int64("lead_id", leadID),
		zap.Int64("threads_flagged", result.RowsAffected()),
		zap.String("sentiment", sentiment.String()),
	)
	return nil
}
