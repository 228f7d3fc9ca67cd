package reset

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"

	"userprofile/internal/common"
	"userprofile/internal/identity"
	"userprofile/internal/logging"
	"userprofile/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	to, subject, body string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to, subject, body})
	return nil
}

type fakeIdentity struct {
	users     map[string]*models.User
	issued    []string
	redeemErr error
	redeemed  []string
}

func (f *fakeIdentity) FindUserByEmail(_ context.Context, email string) (*models.User, bool, error) {
	u, ok := f.users[strings.ToLower(email)]
	return u, ok, nil
}

func (f *fakeIdentity) IssuePasswordResetToken(_ context.Context, user *models.User) (string, error) {
	token := "tok+" + user.ID + "/="
	f.issued = append(f.issued, token)
	return token, nil
}

func (f *fakeIdentity) RedeemPasswordResetToken(_ context.Context, user *models.User, token, _ string) error {
	if f.redeemErr != nil {
		return f.redeemErr
	}
	f.redeemed = append(f.redeemed, user.ID+":"+token)
	return nil
}

func newFlow() (*Flow, *fakeIdentity, *fakeSender) {
	id := &fakeIdentity{users: map[string]*models.User{
		"alice@example.com": {ID: "u1", Email: "alice@example.com"},
	}}
	sender := &fakeSender{}
	return NewFlow(id, sender, "https://profiles.example.com/", logging.NewNop()), id, sender
}

func TestRequestResetKnownEmail(t *testing.T) {
	flow, id, sender := newFlow()

	require.NoError(t, flow.RequestReset(context.Background(), "alice@example.com"))
	require.Len(t, id.issued, 1)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "alice@example.com", msg.to)
	assert.Equal(t, "Reset Password", msg.subject)
	assert.True(t, strings.HasPrefix(msg.body, "Please reset your password by <a href='https://profiles.example.com/api/account/reset-password?"))
	assert.True(t, strings.HasSuffix(msg.body, "'>clicking here</a>."))
}

func TestRequestResetUnknownEmailLooksTheSame(t *testing.T) {
	flow, id, sender := newFlow()

	known := flow.RequestReset(context.Background(), "alice@example.com")
	unknown := flow.RequestReset(context.Background(), "ghost@example.com")

	assert.Equal(t, known, unknown)
	assert.Len(t, id.issued, 1)
	assert.Len(t, sender.sent, 1)
}

func TestRequestResetDeliveryFailure(t *testing.T) {
	flow, id, sender := newFlow()
	sender.err = errors.New("smtp down")

	err := flow.RequestReset(context.Background(), "alice@example.com")
	var delivery *DeliveryError
	require.True(t, errors.As(err, &delivery))
	assert.ErrorIs(t, err, common.ErrDelivery)
	assert.Len(t, id.issued, 1)
}

func TestCallbackURLRoundTrips(t *testing.T) {
	flow, _, _ := newFlow()

	link := flow.CallbackURL("a+b/c=d&e", "x+y@example.com")
	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "profiles.example.com", u.Host)
	assert.Equal(t, CallbackPath, u.Path)
	assert.Equal(t, "a+b/c=d&e", u.Query().Get("token"))
	assert.Equal(t, "x+y@example.com", u.Query().Get("email"))
}

func TestRedeem(t *testing.T) {
	flow, id, _ := newFlow()

	err := flow.Redeem(context.Background(), RedeemRequest{
		Email: "alice@example.com", Token: "t", Password: "ValidPass123X", ConfirmPassword: "ValidPass123X",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1:t"}, id.redeemed)
}

func TestRedeemPolicyAndConfirmation(t *testing.T) {
	flow, id, _ := newFlow()

	err := flow.Redeem(context.Background(), RedeemRequest{
		Email: "alice@example.com", Token: "t", Password: "short", ConfirmPassword: "other",
	})
	verr, ok := common.AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, verr.Messages, "Password must be at least 12 characters long.")
	assert.Contains(t, verr.Messages, MsgPasswordMismatch)
	assert.Empty(t, id.redeemed)
}

func TestRedeemUnknownEmail(t *testing.T) {
	flow, id, _ := newFlow()

	err := flow.Redeem(context.Background(), RedeemRequest{
		Email: "ghost@example.com", Token: "t", Password: "ValidPass123X", ConfirmPassword: "ValidPass123X",
	})
	require.NoError(t, err)
	assert.Empty(t, id.redeemed)
}

func TestRedeemIdentityRejection(t *testing.T) {
	flow, id, _ := newFlow()
	id.redeemErr = &identity.Error{Reason: identity.ReasonInvalidToken, Messages: []string{"Invalid token."}}

	err := flow.Redeem(context.Background(), RedeemRequest{
		Email: "alice@example.com", Token: "t", Password: "ValidPass123X", ConfirmPassword: "ValidPass123X",
	})
	verr, ok := common.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, []string{"Invalid token."}, verr.Messages)
	assert.ErrorIs(t, err, common.ErrIdentity)
}

func TestRedeemStorageFailure(t *testing.T) {
	flow, id, _ := newFlow()
	id.redeemErr = common.ErrStorage

	err := flow.Redeem(context.Background(), RedeemRequest{
		Email: "alice@example.com", Token: "t", Password: "ValidPass123X", ConfirmPassword: "ValidPass123X",
	})
	assert.ErrorIs(t, err, common.ErrStorage)
	assert.NotErrorIs(t, err, common.ErrValidation)
}
