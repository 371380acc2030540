package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tripletsrewards/server/internal/model"
)

// defaultPointRatio applies to sponsors that never saved store settings
const defaultPointRatio = 1

// SponsorRepo defines the interface for sponsor organization operations
type SponsorRepo interface {
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (model.Sponsor, error)
	GetByOrgName(ctx context.Context, orgName string) (model.Sponsor, error)
	GetSettings(ctx context.Context, sponsorID uuid.UUID) (model.StoreSettings, error)
	UpsertSettings(ctx context.Context, s model.StoreSettings) (model.StoreSettings, error)
}

type sponsorRepo struct {
	db *sql.DB
}

// NewSponsorRepo creates a new SponsorRepo instance
func NewSponsorRepo(db *sql.DB) SponsorRepo {
	return &sponsorRepo{db: db}
}

func (r *sponsorRepo) getOne(ctx context.Context, where string, arg any) (model.Sponsor, error) {
	var s model.Sponsor
	err := r.db.QueryRowContext(ctx, `
		SELECT account_id, org_name, status, created_at FROM sponsors WHERE `+where, arg,
	).Scan(&s.AccountID, &s.OrgName, &s.Status, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Sponsor{}, fmt.Errorf("sponsor: %w", ErrNotFound)
		}
		return model.Sponsor{}, fmt.Errorf("query sponsor: %w", err)
	}
	return s, nil
}

// GetByAccountID retrieves the organization owned by a sponsor account
func (r *sponsorRepo) GetByAccountID(ctx context.Context, accountID uuid.UUID) (model.Sponsor, error) {
	return r.getOne(ctx, "account_id = $1", accountID)
}

// GetByOrgName retrieves an organization by exact name
func (r *sponsorRepo) GetByOrgName(ctx context.Context, orgName string) (model.Sponsor, error) {
	return r.getOne(ctx, "org_name = $1", orgName)
}

// GetSettings returns the store settings of a sponsor, or defaults when none were saved
func (r *sponsorRepo) GetSettings(ctx context.Context, sponsorID uuid.UUID) (model.StoreSettings, error) {
	s := model.StoreSettings{SponsorID: sponsorID}
	err := r.db.QueryRowContext(ctx, `
		SELECT ebay_category_id, point_ratio, updated_at FROM store_settings WHERE sponsor_id = $1
	`, sponsorID).Scan(&s.EbayCategoryID, &s.PointRatio, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.PointRatio = defaultPointRatio
			return s, nil
		}
		return model.StoreSettings{}, fmt.Errorf("query settings: %w", err)
	}
	return s, nil
}

// UpsertSettings saves store settings
func (r *sponsorRepo) UpsertSettings(ctx context.Context, s model.StoreSettings) (model.StoreSettings, error) {
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO store_settings (sponsor_id, ebay_category_id, point_ratio, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (sponsor_id) DO UPDATE
		SET ebay_category_id = EXCLUDED.ebay_category_id,
		    point_ratio = EXCLUDED.point_ratio,
		    updated_at = now()
		RETURNING updated_at
	`, s.SponsorID, s.EbayCategoryID, s.PointRatio).Scan(&updatedAt)
	if err != nil {
		return model.StoreSettings{}, fmt.Errorf("upsert settings: %w", err)
	}
	s.UpdatedAt = updatedAt
	return s, nil
}
