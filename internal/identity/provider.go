// Package identity owns user accounts: credentials, lookup and password
// reset tokens.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"userprofile/internal/common"
	"userprofile/internal/logging"
	"userprofile/internal/models"
	"userprofile/internal/password"
	"userprofile/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// SessionRevoker ends every login session of a user.
type SessionRevoker interface {
	RevokeUserTokens(ctx context.Context, userID string) error
}

type Provider struct {
	db       *storage.DB
	secret   []byte
	resetTTL time.Duration
	sessions SessionRevoker
	logger   logging.Logger
	now      func() time.Time
	cost     int
}

// NewProvider builds the identity provider. secret signs password reset tokens.
func NewProvider(db *storage.DB, secret []byte, resetTTL time.Duration, sessions SessionRevoker, logger logging.Logger) *Provider {
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}
	return &Provider{
		db:       db,
		secret:   secret,
		resetTTL: resetTTL,
		sessions: sessions,
		logger:   logger.With("component", "identity"),
		now:      time.Now,
		cost:     bcrypt.DefaultCost,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account. The password must satisfy the policy.
func (p *Provider) Register(ctx context.Context, username, email, pw string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if username == "" || email == "" {
		return nil, common.NewValidationError(common.CodeInvalidField, "Username and email are required.")
	}
	if msgs := password.Validate(pw); len(msgs) > 0 {
		return nil, common.NewValidationError(common.CodePasswordPolicy, msgs...)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), p.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    p.now().UTC(),
	}
	_, err = p.db.ExecContext(ctx, p.db.Rebind(
		`INSERT INTO users (id, username, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`),
		user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("create user: %w", common.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create user: %w: %w", common.ErrStorage, err)
	}
	p.logger.Info(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// Authenticate validates credentials and returns the user.
func (p *Provider) Authenticate(ctx context.Context, username, pw string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || pw == "" {
		return nil, common.ErrUnauthorized
	}
	user, found, err := p.findUser(ctx, `WHERE username = ?`, username)
	if err != nil {
		return nil, err
	}
	if !found {
		// Spend the same time as a real comparison so unknown names are not observable.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(pw))
		return nil, common.ErrUnauthorized
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(pw)) != nil {
		return nil, common.ErrUnauthorized
	}
	return user, nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)

// FindUserByEmail looks a user up by email. Absence is reported with found=false.
func (p *Provider) FindUserByEmail(ctx context.Context, email string) (*models.User, bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, false, nil
	}
	return p.findUser(ctx, `WHERE email = ?`, email)
}

func (p *Provider) findUser(ctx context.Context, where string, arg any) (*models.User, bool, error) {
	var user models.User
	err := p.db.QueryRowContext(ctx, p.db.Rebind(
		`SELECT id, username, email, password_hash, created_at FROM users `+where), arg,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query user: %w: %w", common.ErrStorage, err)
	}
	return &user, true, nil
}

// DeleteUser removes a user together with its tokens and profile.
func (p *Provider) DeleteUser(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("invalid user id")
	}
	err := storage.WithTx(ctx, p.db, func(ctx context.Context, tx storage.DBTX) error {
		for _, table := range []string{"user_tokens", "password_reset_tokens", "user_profiles"} {
			if _, err := tx.ExecContext(ctx, p.db.Rebind(`DELETE FROM `+table+` WHERE user_id = ?`), userID); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		res, err := tx.ExecContext(ctx, p.db.Rebind(`DELETE FROM users WHERE id = ?`), userID)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return common.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info(ctx, "user deleted", "user_id", userID)
	return nil
}
