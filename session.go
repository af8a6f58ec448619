package identity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ Session = &SessionObject{}

type SessionObject struct {
	AccountID      string         `json:"account_id,omitempty"`
	Issuer         string         `json:"issuer,omitempty"`
	IssuedAt       *time.Time     `json:"issued_at,omitempty"`
	ExpirationDate *time.Time     `json:"expiration_date,omitempty"`
	Mode           AuthMode       `json:"mode,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (s *SessionObject) GetAccountID() string {
	return s.AccountID
}

func (s *SessionObject) GetAccountUUID() (uuid.UUID, error) {
	return uuid.Parse(s.AccountID)
}

func (s *SessionObject) GetIssuer() string {
	return s.Issuer
}

func (s *SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s *SessionObject) GetAuthMode() AuthMode {
	return s.Mode
}

func (s *SessionObject) GetData() map[string]any {
	return s.Data
}

// HasAccountUUID reports whether Session.GetAccountUUID will succeed.
func HasAccountUUID(session Session) bool {
	if session == nil {
		return false
	}
	_, err := session.GetAccountUUID()
	return err == nil
}

// GetRole returns the role recorded in the session data, if any.
func (s *SessionObject) GetRole() string {
	if s.Data == nil {
		return ""
	}
	if role, ok := s.Data["role"].(string); ok {
		return role
	}
	return ""
}

func (s *SessionObject) String() string {
	issuedAt := ""
	if s.IssuedAt != nil {
		issuedAt = s.IssuedAt.Format(time.RFC3339)
	}
	return fmt.Sprintf(
		"account=%s iss=%s iat=%s mode=%s data=%v",
		s.AccountID,
		s.Issuer,
		issuedAt,
		s.Mode,
		s.Data,
	)
}

// sessionFromAuthClaims creates a SessionObject from validated claims
func sessionFromAuthClaims(claims AuthClaims) (*SessionObject, error) {
	if claims == nil {
		return nil, ErrUnableToMapClaims
	}

	data := make(map[string]any)
	data["role"] = claims.Role()

	if sc, ok := claims.(*SessionClaims); ok {
		if len(sc.Metadata) > 0 {
			data["metadata"] = sc.Metadata
		}
	}

	issuedAt := claims.IssuedAt()
	expiresAt := claims.Expires()

	return &SessionObject{
		AccountID:      claims.AccountID(),
		Issuer:         issuerFromClaims(claims),
		Mode:           claims.Mode(),
		Data:           data,
		IssuedAt:       &issuedAt,
		ExpirationDate: &expiresAt,
	}, nil
}

func issuerFromClaims(claims AuthClaims) string {
	if sc, ok := claims.(*SessionClaims); ok {
		if sc.RegisteredClaims.Issuer != "" {
			return sc.RegisteredClaims.Issuer
		}
	}
	return ""
}
