package auth

// UserType tags the credential source a claim came from.
type UserType string

const (
	UserTypeLocal     UserType = "local"
	UserTypeFederated UserType = "federated"
)

// Claim is the authenticated identity carried by a session. The zero
// value is unauthenticated; the tag discriminates the variant, so callers
// never probe optional fields directly.
type Claim struct {
	Type        UserType `json:"type"`
	DisplayName string   `json:"display_name"`

	// Federated-only fields. AccessToken is opaque and kept solely for
	// later revocation; Subject is the provider's stable user id.
	Subject     string `json:"subject,omitempty"`
	AccessToken string `json:"-"`
	UserID      int64  `json:"user_id,omitempty"`
}

// Authenticated reports whether the claim carries any identity.
func (c Claim) Authenticated() bool {
	return c.Type == UserTypeLocal || c.Type == UserTypeFederated
}

// Federated reports whether the claim came from the identity provider.
func (c Claim) Federated() bool {
	return c.Type == UserTypeFederated
}

// LocalClaim builds the claim produced by a successful local login.
func LocalClaim(displayName string) Claim {
	return Claim{Type: UserTypeLocal, DisplayName: displayName}
}

// FederatedClaim builds the claim produced by a completed federated login.
func FederatedClaim(displayName, subject, accessToken string, userID int64) Claim {
	return Claim{
		Type:        UserTypeFederated,
		DisplayName: displayName,
		Subject:     subject,
		AccessToken: accessToken,
		UserID:      userID,
	}
}
