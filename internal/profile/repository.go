package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"userprofile/internal/common"
	"userprofile/internal/models"
	"userprofile/internal/storage"
)

// Repository persists at most one profile per user.
type Repository interface {
	// Get reports found=false, not an error, when the user has no profile yet.
	Get(ctx context.Context, userID string) (*models.UserProfile, bool, error)
	// Upsert inserts the profile or overwrites its fields. UserID never changes.
	Upsert(ctx context.Context, p *models.UserProfile) error
}

type SQLRepository struct {
	db  *storage.DB
	now func() time.Time
}

func NewSQLRepository(db *storage.DB) *SQLRepository {
	return &SQLRepository{db: db, now: time.Now}
}

func (r *SQLRepository) Get(ctx context.Context, userID string) (*models.UserProfile, bool, error) {
	var p models.UserProfile
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT user_id, first_name, last_name, address, phone_number, updated_at
		FROM user_profiles WHERE user_id = ?`), userID).
		Scan(&p.UserID, &p.FirstName, &p.LastName, &p.Address, &p.PhoneNumber, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get profile: %w: %w", common.ErrStorage, err)
	}
	return &p, true, nil
}

const (
	upsertOnConflict = `
		INSERT INTO user_profiles (user_id, first_name, last_name, address, phone_number, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			address = excluded.address,
			phone_number = excluded.phone_number,
			updated_at = excluded.updated_at`

	upsertMySQL = `
		INSERT INTO user_profiles (user_id, first_name, last_name, address, phone_number, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			first_name = VALUES(first_name),
			last_name = VALUES(last_name),
			address = VALUES(address),
			phone_number = VALUES(phone_number),
			updated_at = VALUES(updated_at)`
)

func (r *SQLRepository) upsertQuery() string {
	if r.db.Driver == storage.DriverMySQL {
		return upsertMySQL
	}
	return r.db.Rebind(upsertOnConflict)
}

func (r *SQLRepository) Upsert(ctx context.Context, p *models.UserProfile) error {
	if p == nil || p.UserID == "" {
		return errors.New("upsert profile: user id required")
	}
	p.UpdatedAt = r.now().UTC()
	_, err := r.db.ExecContext(ctx, r.upsertQuery(),
		p.UserID, p.FirstName, p.LastName, p.Address, p.PhoneNumber, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w: %w", common.ErrStorage, err)
	}
	return nil
}
