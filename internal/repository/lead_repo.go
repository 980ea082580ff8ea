package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/events"
	"github.com/zaihebian/LeadGenNewVersion/internal/model"
	"github.com/zaihebian/LeadGenNewVersion/internal/statemachine"
	"github.com/zaihebian/LeadGenNewVersion/pkg/metrics"
	"github.com/zaihebian/LeadGenNewVersion/pkg/outbox"
)

var ErrLeadNotFound = errors.New("lead not found")

type LeadRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewLeadRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *LeadRepository {
	return &LeadRepository{db: db, outbox: outboxRepo, logger: logger}
}

const leadColumns = `
        id, campaign_id, state, first_name, last_name, email, profile_url,
        job_title, company_name, industry, profile_posts, emails_sent_count,
        last_email_at, created_at, updated_at
`

func scanLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	err := row.Scan(
		&l.ID,
		&l.CampaignID,
		&l.State,
		&l.FirstName,
		&l.LastName,
		&l.Email,
		&l.ProfileURL,
		&l.JobTitle,
		&l.CompanyName,
		&l.Industry,
		&l.ProfilePostsJSON,
		&l.EmailsSentCount,
		&l.LastEmailAt,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Create inserts a new lead in COLLECTED and bumps its campaign's collected
// counter in the same transaction.
func (r *LeadRepository) Create(ctx context.Context, p model.LeadCreateParams) (int64, error) {
	r.logger.Debug("Inserting lead",
		zap.Int64("campaign_id", p.CampaignID),
		zap.String("email", p.Email),
	)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO leads (campaign_id, state, first_name, last_name, email,
                           profile_url, job_title, company_name, industry)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	var id int64
	err = tx.QueryRow(ctx, query,
		p.CampaignID,
		model.StateCollected,
		p.FirstName,
		p.LastName,
		p.Email,
		p.ProfileURL,
		p.JobTitle,
		p.CompanyName,
		p.Industry,
	).Scan(&id)
	if err != nil {
		r.logger.Error("Failed to insert lead",
			zap.Error(err),
			zap.Int64("campaign_id", p.CampaignID),
		)
		return 0, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE campaigns SET leads_collected = leads_collected + 1, updated_at = NOW() WHERE id = $1`,
		p.CampaignID,
	)
	if err != nil {
		r.logger.Error("Failed to bump campaign collected counter",
			zap.Error(err),
			zap.Int64("campaign_id", p.CampaignID),
		)
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	r.logger.Info("Lead inserted successfully",
		zap.Int64("lead_id", id),
		zap.Int64("campaign_id", p.CampaignID),
	)
	return id, nil
}

func (r *LeadRepository) GetByID(ctx context.Context, id int64) (*model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`

	lead, err := scanLead(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		r.logger.Error("Failed to query lead", zap.Error(err), zap.Int64("lead_id", id))
		return nil, err
	}
	return lead, nil
}

// ListByState returns up to limit leads in the given state, oldest first,
// so the batch drivers drain fairly.
func (r *LeadRepository) ListByState(ctx context.Context, state model.LeadState, limit int) ([]*model.Lead, error) {
	start := time.Now()
	query := `
        SELECT ` + leadColumns + `
        FROM leads
        WHERE state = $1
        ORDER BY updated_at ASC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, state, limit)
	if err != nil {
		r.logger.Error("Failed to query leads by state",
			zap.Error(err),
			zap.String("state", state.String()),
		)
		return nil, err
	}
	defer rows.Close()

	leads, err := collectLeads(rows)
	if err != nil {
		r.logger.Error("Failed to scan lead rows", zap.Error(err))
		return nil, err
	}

	metrics.RecordDBQueryDuration("list_by_state", "leads", time.Since(start))
	return leads, nil
}

// ListInStateOlderThan returns leads in state whose last email is older than
// cutoff. Used by the follow-up sender and the stale closer.
func (r *LeadRepository) ListInStateOlderThan(ctx context.Context, state model.LeadState, cutoff time.Time, limit int) ([]*model.Lead, error) {
	query := `
        SELECT ` + leadColumns + `
        FROM leads
        WHERE state = $1
          AND last_email_at IS NOT NULL
          AND last_email_at < $2
        ORDER BY last_email_at ASC
        LIMIT $3
    `
	rows, err := r.db.Query(ctx, query, state, cutoff, limit)
	if err != nil {
		r.logger.Error("Failed to query stale leads",
			zap.Error(err),
			zap.String("state", state.String()),
			zap.Time("cutoff", cutoff),
		)
		return nil, err
	}
	defer rows.Close()

	return collectLeads(rows)
}

func collectLeads(rows pgx.Rows) ([]*model.Lead, error) {
	leads := []*model.Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// SetEnrichmentData attaches generated profile data before the ENRICHED
// transition. Identity fields are never touched here.
func (r *LeadRepository) SetEnrichmentData(ctx context.Context, leadID int64, profilePosts []byte) error {
	_, err := r.db.Exec(ctx,
		`UPDATE leads SET profile_posts = $1, updated_at = NOW() WHERE id = $2`,
		profilePosts, leadID,
	)
	if err != nil {
		r.logger.Error("Failed to store enrichment data",
			zap.Error(err),
			zap.Int64("lead_id", leadID),
		)
	}
	return err
}

// UpdateLifecycle persists a state-machine mutation. The UPDATE is
// conditional on the stored state still matching expectedState; zero rows
// affected means another job won the race and ErrStaleState is returned.
// A lead.transitioned event is written to the outbox in the same
// transaction.
func (r *LeadRepository) UpdateLifecycle(ctx context.Context, lead *model.Lead, expectedState model.LeadState, reason string) error {
	start := time.Now()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
        UPDATE leads
        SET state = $1, emails_sent_count = $2, last_email_at = $3, updated_at = NOW()
        WHERE id = $4 AND state = $5
    `
	result, err := tx.Exec(ctx, query,
		lead.State,
		lead.EmailsSentCount,
		lead.LastEmailAt,
		lead.ID,
		expectedState,
	)
	if err != nil {
		r.logger.Error("Failed to update lead lifecycle",
			zap.Error(err),
			zap.Int64("lead_id", lead.ID),
		)
		return err
	}
	if result.RowsAffected() == 0 {
		r.logger.Warn("Lead lifecycle update lost a race",
			zap.Int64("lead_id", lead.ID),
			zap.String("expected_state", expectedState.String()),
			zap.String("attempted_state", lead.State.String()),
		)
		return statemachine.ErrStaleState
	}

	payload := events.LeadTransitionedPayload{
		LeadID:    lead.ID,
		FromState: expectedState.String(),
		ToState:   lead.State.String(),
		Reason:    reason,
		At:        time.Now().UTC(),
	}
	if err := outbox.InsertEventInTx(ctx, tx, r.outbox, "lead", &lead.ID, events.KeyLeadTransitioned, payload); err != nil {
		r.logger.Error("Failed to insert transition event into outbox",
			zap.Error(err),
			zap.Int64("lead_id", lead.ID),
		)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	metrics.RecordDBQueryDuration("update_lifecycle", "leads", time.Since(start))
	return nil
}

// CountByState powers the operator stats endpoint.
func (r *LeadRepository) CountByState(ctx context.Context) (map[model.LeadState]int, error) {
	rows, err := r.db.Query(ctx, `SELECT state, COUNT(*) FROM leads GROUP BY state`)
	if err != nil {
		r.logger.Error("Failed to count leads by state", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.LeadState]int)
	for rows.Next() {
		var state model.LeadState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
