package identity

import (
	"context"
	"errors"
	"fmt"

	"userprofile/internal/common"
	"userprofile/internal/models"
	"userprofile/internal/password"
	"userprofile/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const resetPurpose = "password_reset"

// Reason tells why a reset token was refused.
type Reason string

const (
	ReasonInvalidToken Reason = "invalid_token"
	ReasonExpiredToken Reason = "expired_token"
	ReasonPassword     Reason = "password_policy"
)

// Error is returned when the provider refuses a reset. It matches common.ErrIdentity.
type Error struct {
	Reason   Reason
	Messages []string
}

func (e *Error) Error() string {
	if len(e.Messages) > 0 {
		return e.Messages[0]
	}
	return string(e.Reason)
}

func (e *Error) Unwrap() error { return common.ErrIdentity }

var (
	errInvalidToken = &Error{Reason: ReasonInvalidToken, Messages: []string{"Invalid token."}}
	errExpiredToken = &Error{Reason: ReasonExpiredToken, Messages: []string{"Token expired."}}
)

type resetClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// IssuePasswordResetToken mints a signed single-use token for user and records its id.
func (p *Provider) IssuePasswordResetToken(ctx context.Context, user *models.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", errors.New("issue reset token: user required")
	}
	now := p.now().UTC()
	expires := now.Add(p.resetTTL)
	jti := uuid.NewString()

	claims := resetClaims{
		Purpose: resetPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign reset token: %w", err)
	}
	_, err = p.db.ExecContext(ctx, p.db.Rebind(
		`INSERT INTO password_reset_tokens (jti, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`),
		jti, user.ID, now, expires,
	)
	if err != nil {
		return "", fmt.Errorf("record reset token: %w: %w", common.ErrStorage, err)
	}
	return token, nil
}

// RedeemPasswordResetToken sets a new password if token is a valid, unused
// reset token for user. Every session of the user is revoked afterwards.
func (p *Provider) RedeemPasswordResetToken(ctx context.Context, user *models.User, token, newPassword string) error {
	if user == nil || user.ID == "" {
		return errInvalidToken
	}
	if msgs := password.Validate(newPassword); len(msgs) > 0 {
		return &Error{Reason: ReasonPassword, Messages: msgs}
	}
	claims, err := p.parseResetToken(token)
	if err != nil {
		return err
	}
	if claims.Subject != user.ID {
		return errInvalidToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), p.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := p.now().UTC()
	err = storage.WithTx(ctx, p.db, func(ctx context.Context, tx storage.DBTX) error {
		res, err := tx.ExecContext(ctx, p.db.Rebind(`
			UPDATE password_reset_tokens SET used_at = ?
			WHERE jti = ? AND user_id = ? AND used_at IS NULL AND expires_at > ?`),
			now, claims.ID, user.ID, now)
		if err != nil {
			return fmt.Errorf("consume reset token: %w: %w", common.ErrStorage, err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return errInvalidToken
		}
		// Older outstanding tokens die with this one.
		if _, err := tx.ExecContext(ctx, p.db.Rebind(
			`UPDATE password_reset_tokens SET used_at = ? WHERE user_id = ? AND used_at IS NULL`),
			now, user.ID); err != nil {
			return fmt.Errorf("retire reset tokens: %w: %w", common.ErrStorage, err)
		}
		if _, err := tx.ExecContext(ctx, p.db.Rebind(`UPDATE users SET password_hash = ? WHERE id = ?`),
			string(hash), user.ID); err != nil {
			return fmt.Errorf("update password: %w: %w", common.ErrStorage, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if p.sessions != nil {
		if err := p.sessions.RevokeUserTokens(ctx, user.ID); err != nil {
			p.logger.Warn(ctx, "revoke sessions after reset failed", "user_id", user.ID, "error", err)
		}
	}
	p.logger.Info(ctx, "password reset", "user_id", user.ID)
	return nil
}

func (p *Provider) parseResetToken(token string) (*resetClaims, error) {
	claims := &resetClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.now))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, errExpiredToken
	}
	if err != nil || !parsed.Valid || claims.Purpose != resetPurpose || claims.ID == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}

// PurgeExpired drops reset tokens that are used or past their expiry.
func (p *Provider) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, p.db.Rebind(
		`DELETE FROM password_reset_tokens WHERE used_at IS NOT NULL OR expires_at <= ?`), p.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge reset tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
