// Package reset runs the forgotten-password flow: a reset link is emailed to
// a known address and later redeemed for a new password.
package reset

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"userprofile/internal/common"
	"userprofile/internal/identity"
	"userprofile/internal/logging"
	"userprofile/internal/mail"
	"userprofile/internal/metrics"
	"userprofile/internal/models"
	"userprofile/internal/password"
)

const (
	CallbackPath = "/api/account/reset-password"
	Subject      = "Reset Password"

	MsgPasswordMismatch = "The password and confirmation password do not match."
)

// State names the step a reset request reached. It is logged with every transition.
type State string

const (
	StateRequested          State = "requested"
	StateTokenIssued        State = "token_issued"
	StateCallbackDispatched State = "callback_dispatched"
	StateRedeemed           State = "redeemed"
	StateExpired            State = "expired"
	StateInvalid            State = "invalid"
)

// Identity is what the flow needs from the account store.
type Identity interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, bool, error)
	IssuePasswordResetToken(ctx context.Context, user *models.User) (string, error)
	RedeemPasswordResetToken(ctx context.Context, user *models.User, token, newPassword string) error
}

// DeliveryError reports that the reset email could not be sent. The token was
// issued; callers still answer with the generic confirmation.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return "send reset email: " + e.Err.Error() }

func (e *DeliveryError) Unwrap() []error { return []error{common.ErrDelivery, e.Err} }

type RedeemRequest struct {
	Email           string
	Token           string
	Password        string
	ConfirmPassword string
}

type Flow struct {
	identity Identity
	sender   mail.Sender
	baseURL  string
	logger   logging.Logger
}

// NewFlow builds the flow. baseURL is the externally visible origin used in
// callback links, e.g. https://profiles.example.com.
func NewFlow(id Identity, sender mail.Sender, baseURL string, logger logging.Logger) *Flow {
	return &Flow{
		identity: id,
		sender:   sender,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger.With("component", "reset"),
	}
}

// RequestReset emails a reset link when email belongs to an account. Unknown
// addresses succeed silently so callers cannot tell which accounts exist.
func (f *Flow) RequestReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	f.logger.Debug(ctx, "reset state", "state", StateRequested)

	user, found, err := f.identity.FindUserByEmail(ctx, email)
	if err != nil {
		metrics.ResetRequestsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("lookup user: %w", err)
	}
	if !found {
		metrics.ResetRequestsTotal.WithLabelValues("unknown").Inc()
		return nil
	}

	token, err := f.identity.IssuePasswordResetToken(ctx, user)
	if err != nil {
		metrics.ResetRequestsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("issue reset token: %w", err)
	}
	f.logger.Debug(ctx, "reset state", "state", StateTokenIssued, "user_id", user.ID)

	link := f.CallbackURL(token, email)
	body := fmt.Sprintf("Please reset your password by <a href='%s'>clicking here</a>.", html.EscapeString(link))
	if err := f.sender.Send(ctx, email, Subject, body); err != nil {
		metrics.ResetRequestsTotal.WithLabelValues("delivery_failed").Inc()
		f.logger.Error(ctx, "reset email failed", "user_id", user.ID, "error", err)
		return &DeliveryError{Err: err}
	}
	metrics.ResetRequestsTotal.WithLabelValues("sent").Inc()
	f.logger.Info(ctx, "reset state", "state", StateCallbackDispatched, "user_id", user.ID)
	return nil
}

// CallbackURL builds the absolute link carried by the reset email.
func (f *Flow) CallbackURL(token, email string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("email", email)
	return f.baseURL + CallbackPath + "?" + q.Encode()
}

// Redeem sets a new password. Unknown emails get the same nil result as a
// success. Policy failures and refused tokens come back as ValidationError.
func (f *Flow) Redeem(ctx context.Context, req RedeemRequest) error {
	msgs := password.Validate(req.Password)
	if req.Password != req.ConfirmPassword {
		msgs = append(msgs, MsgPasswordMismatch)
	}
	if len(msgs) > 0 {
		return common.NewValidationError(common.CodePasswordPolicy, msgs...)
	}

	user, found, err := f.identity.FindUserByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !found {
		metrics.ResetRedemptionsTotal.WithLabelValues("unknown").Inc()
		return nil
	}

	err = f.identity.RedeemPasswordResetToken(ctx, user, req.Token, req.Password)
	if err == nil {
		metrics.ResetRedemptionsTotal.WithLabelValues(string(StateRedeemed)).Inc()
		f.logger.Info(ctx, "reset state", "state", StateRedeemed, "user_id", user.ID)
		return nil
	}

	var idErr *identity.Error
	if !errors.As(err, &idErr) {
		return err
	}
	state := StateInvalid
	if idErr.Reason == identity.ReasonExpiredToken {
		state = StateExpired
	}
	metrics.ResetRedemptionsTotal.WithLabelValues(string(state)).Inc()
	f.logger.Info(ctx, "reset state", "state", state, "user_id", user.ID)
	return &common.ValidationError{Code: common.CodeIdentity, Messages: idErr.Messages, Err: err}
}
