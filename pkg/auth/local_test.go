package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestStaticVerifierPlaintext(t *testing.T) {
	v, err := NewStaticVerifier("admin", "", "admin")
	require.NoError(t, err)

	tests := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{name: "valid pair", username: "admin", password: "admin"},
		{name: "wrong password", username: "admin", password: "hunter2", wantErr: true},
		{name: "wrong username", username: "root", password: "admin", wantErr: true},
		{name: "both wrong", username: "root", password: "toor", wantErr: true},
		{name: "empty pair", username: "", password: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.username, tt.password)
			if tt.wantErr {
				// Every mismatch yields the same error regardless of which
				// field was wrong.
				assert.ErrorIs(t, err, ErrInvalidCredentials)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestStaticVerifierBcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	v, err := NewStaticVerifier("admin", string(hash), "")
	require.NoError(t, err)

	assert.NoError(t, v.Verify("admin", "s3cret"))
	assert.ErrorIs(t, v.Verify("admin", "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, v.Verify("other", "s3cret"), ErrInvalidCredentials)
}

func TestNewStaticVerifierValidation(t *testing.T) {
	_, err := NewStaticVerifier("", "", "pw")
	assert.Error(t, err)

	_, err = NewStaticVerifier("admin", "", "")
	assert.Error(t, err)
}

func TestAuthenticateLocal(t *testing.T) {
	v, err := NewStaticVerifier("admin", "", "admin")
	require.NoError(t, err)
	a := NewAuthenticator(v)

	claim, err := a.AuthenticateLocal("admin", "admin")
	require.NoError(t, err)
	assert.Equal(t, UserTypeLocal, claim.Type)
	assert.Equal(t, "admin", claim.DisplayName)
	assert.True(t, claim.Authenticated())
	assert.False(t, claim.Federated())

	_, err = a.AuthenticateLocal("admin", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestClaimVariants(t *testing.T) {
	var zero Claim
	assert.False(t, zero.Authenticated())

	fed := FederatedClaim("Ada", "subject-1", "tok", 7)
	assert.True(t, fed.Authenticated())
	assert.True(t, fed.Federated())
	assert.Equal(t, int64(7), fed.UserID)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "invalid_credentials", Reason(ErrInvalidCredentials))
	assert.Equal(t, "csrf_violation", Reason(ErrCSRFViolation))
	assert.Equal(t, "subject_mismatch", Reason(ErrSubjectMismatch))
	assert.Equal(t, "other", Reason(assert.AnError))
}
