package auth

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier checks a username/password pair against some backing
// credential store. Implementations must not reveal which field failed.
type CredentialVerifier interface {
	Verify(username, password string) error
}

// Authenticator validates local credentials and produces session claims.
type Authenticator struct {
	verifier CredentialVerifier
}

// NewAuthenticator creates an authenticator over the given verifier.
func NewAuthenticator(verifier CredentialVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// AuthenticateLocal validates the fixed administrative credential pair.
// Any mismatch yields ErrInvalidCredentials; success yields a local claim
// with no linked user record.
func (a *Authenticator) AuthenticateLocal(username, password string) (Claim, error) {
	if err := a.verifier.Verify(username, password); err != nil {
		return Claim{}, err
	}
	return LocalClaim(username), nil
}

// StaticVerifier holds a single administrative identity. The password is
// compared against a bcrypt hash when one is configured, falling back to a
// constant-time plaintext comparison otherwise.
type StaticVerifier struct {
	Username     string
	PasswordHash string
	Password     string
}

// NewStaticVerifier builds a verifier from config values. Exactly one of
// passwordHash and password must be non-empty.
func NewStaticVerifier(username, passwordHash, password string) (*StaticVerifier, error) {
	if username == "" {
		return nil, fmt.Errorf("admin username is required")
	}
	if passwordHash == "" && password == "" {
		return nil, fmt.Errorf("admin password or password hash is required")
	}
	return &StaticVerifier{
		Username:     username,
		PasswordHash: passwordHash,
		Password:     password,
	}, nil
}

// Verify implements CredentialVerifier.
func (v *StaticVerifier) Verify(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(v.Username)) == 1

	var passOK bool
	if v.PasswordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(v.PasswordHash), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(v.Password)) == 1
	}

	if !userOK || !passOK {
		return ErrInvalidCredentials
	}
	return nil
}
