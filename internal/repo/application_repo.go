package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tripletsrewards/server/internal/model"
)

// ApplicationRepo defines the interface for driver application operations
type ApplicationRepo interface {
	Create(ctx context.Context, driverID, sponsorID uuid.UUID) (model.DriverApplication, error)
	ListBySponsor(ctx context.Context, sponsorID uuid.UUID, status model.ApplicationStatus) ([]model.DriverApplication, error)
	ListByDriver(ctx context.Context, driverID uuid.UUID) ([]model.DriverApplication, error)
	Decide(ctx context.Context, id, sponsorID uuid.UUID, status model.ApplicationStatus, now time.Time) error
	AcceptedDrivers(ctx context.Context, sponsorID uuid.UUID) ([]model.Account, error)
}

type applicationRepo struct {
	db *sql.DB
}

// NewApplicationRepo creates a new ApplicationRepo instance
func NewApplicationRepo(db *sql.DB) ApplicationRepo {
	return &applicationRepo{db: db}
}

const applicationSelect = `
	SELECT a.id, a.driver_id, u.username, a.sponsor_id, a.status, a.created_at, a.decided_at
	FROM driver_applications a
	JOIN accounts u ON u.id = a.driver_id`

func scanApplications(rows *sql.Rows) ([]model.DriverApplication, error) {
	defer rows.Close()
	var out []model.DriverApplication
	for rows.Next() {
		var app model.DriverApplication
		var status string
		if err := rows.Scan(&app.ID, &app.DriverID, &app.DriverUsername, &app.SponsorID, &status, &app.CreatedAt, &app.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		app.Status = model.ApplicationStatus(status)
		out = append(out, app)
	}
	return out, rows.Err()
}

// Create inserts a pending application
func (r *applicationRepo) Create(ctx context.Context, driverID, sponsorID uuid.UUID) (model.DriverApplication, error) {
	app := model.DriverApplication{DriverID: driverID, SponsorID: sponsorID, Status: model.ApplicationPending}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO driver_applications (driver_id, sponsor_id)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, driverID, sponsorID).Scan(&app.ID, &app.CreatedAt)
	if err != nil {
		return model.DriverApplication{}, fmt.Errorf("insert application: %w", err)
	}
	return app, nil
}

// ListBySponsor returns the applications to a sponsor with the given status
func (r *applicationRepo) ListBySponsor(ctx context.Context, sponsorID uuid.UUID, status model.ApplicationStatus) ([]model.DriverApplication, error) {
	rows, err := r.db.QueryContext(ctx, applicationSelect+`
		WHERE a.sponsor_id = $1 AND a.status = $2
		ORDER BY a.created_at ASC
	`, sponsorID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return scanApplications(rows)
}

// ListByDriver returns all applications made by a driver
func (r *applicationRepo) ListByDriver(ctx context.Context, driverID uuid.UUID) ([]model.DriverApplication, error) {
	rows, err := r.db.QueryContext(ctx, applicationSelect+`
		WHERE a.driver_id = $1
		ORDER BY a.created_at DESC
	`, driverID)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return scanApplications(rows)
}

// Decide moves a pending application owned by sponsorID to status
func (r *applicationRepo) Decide(ctx context.Context, id, sponsorID uuid.UUID, status model.ApplicationStatus, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE driver_applications
		SET status = $3, decided_at = $4
		WHERE id = $1 AND sponsor_id = $2 AND status = 'Pending'
	`, id, sponsorID, string(status), now)
	if err != nil {
		return fmt.Errorf("decide application: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("pending application: %w", ErrNotFound)
	}
	return nil
}

// AcceptedDrivers returns the driver accounts with an accepted application to sponsorID
func (r *applicationRepo) AcceptedDrivers(ctx context.Context, sponsorID uuid.UUID) ([]model.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts u
		WHERE u.id IN (
			SELECT driver_id FROM driver_applications WHERE sponsor_id = $1 AND status = 'Accepted'
		)
		ORDER BY u.username ASC
	`, sponsorID)
	if err != nil {
		return nil, fmt.Errorf("list accepted drivers: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
