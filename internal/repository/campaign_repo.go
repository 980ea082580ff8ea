package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/model"
)

var ErrCampaignNotFound = errors.New("campaign not found")

type CampaignRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewCampaignRepository(db *pgxpool.Pool, logger *zap.Logger) *CampaignRepository {
	return &CampaignRepository{db: db, logger: logger}
}

func (r *CampaignRepository) Create(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO campaigns (name) VALUES ($1) RETURNING id`,
		name,
	).Scan(&id)
	if err != nil {
		r.logger.Error("Failed to insert campaign", zap.Error(err), zap.String("name", name))
		return 0, err
	}
	r.logger.Info("Campaign created", zap.Int64("campaign_id", id), zap.String("name", name))
	return id, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `
        SELECT id, name, leads_collected, leads_emailed, leads_replied, created_at, updated_at
        FROM campaigns
        WHERE id = $1
    `
	var c model.Campaign
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.Name,
		&c.LeadsCollected,
		&c.LeadsEmailed,
		&c.LeadsReplied,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) List(ctx context.Context) ([]*model.Campaign, error) {
	query := `
        SELECT id, name, leads_collected, leads_emailed, leads_replied, created_at, updated_at
        FROM campaigns
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to query campaigns", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		var c model.Campaign
		if err := rows.Scan(
			&c.ID,
			&c.Name,
			&c.LeadsCollected,
			&c.LeadsEmailed,
			&c.LeadsReplied,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, &c)
	}
	return campaigns, rows.Err()
}

// IncrementEmailed bumps the emailed counter when a lead receives its first
// outreach email.
func (r *CampaignRepository) IncrementEmailed(ctx context.Context, campaignID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE campaigns SET leads_emailed = leads_emailed + 1, updated_at = NOW() WHERE id = $1`,
		campaignID,
	)
	if err != nil {
		r.logger.Error("Failed to bump campaign emailed counter",
			zap.Error(err),
			zap.Int64("campaign_id", campaignID),
		)
	}
	return err
}

// IncrementReplied bumps the replied counter the first time a lead answers.
func (r *CampaignRepository) IncrementReplied(ctx context.Context, campaignID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE campaigns SET leads_replied = leads_replied + 1, updated_at = NOW() WHERE id = $1`,
		campaignID,
	)
	if err != nil {
		r.logger.Error("Failed to bump campaign replied counter",
			zap.Error(err),
			zap.Int64("campaign_id", campaignID),
		)
	}
	return err
}
