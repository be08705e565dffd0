package models

import "strings"

// CredentialKind says which credential shape is authoritative for a session.
type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	// CredentialToken is an access/refresh token pair.
	CredentialToken
	// CredentialLegacy is a single opaque session cookie issued by older backends.
	CredentialLegacy
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialToken:
		return "token"
	case CredentialLegacy:
		return "legacy"
	default:
		return "none"
	}
}

// Credentials holds either a token pair or a legacy cookie. When both are
// present the token pair wins.
type Credentials struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Cookie       string `json:"cookie,omitempty"`
}

// Kind returns the authoritative credential shape.
func (c Credentials) Kind() CredentialKind {
	switch {
	case c.AccessToken != "":
		return CredentialToken
	case c.Cookie != "":
		return CredentialLegacy
	default:
		return CredentialNone
	}
}

// Bearer returns the secret sent in the Authorization header.
func (c Credentials) Bearer() string {
	switch c.Kind() {
	case CredentialToken:
		return c.AccessToken
	case CredentialLegacy:
		return c.Cookie
	default:
		return ""
	}
}

// QueryParam returns the name and value used to authenticate the realtime socket.
func (c Credentials) QueryParam() (string, string) {
	switch c.Kind() {
	case CredentialToken:
		return "token", c.AccessToken
	case CredentialLegacy:
		return "cookie", c.Cookie
	default:
		return "", ""
	}
}

// IsZero reports whether no credential is present.
func (c Credentials) IsZero() bool {
	return c.Kind() == CredentialNone
}

// User is the denormalized profile snapshot cached with the session. It is
// shown before the authoritative member record loads.
type User struct {
	ID       int64  `json:"id,omitempty"`
	Nom      string `json:"nom,omitempty"`
	Prenom   string `json:"prenom,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Handle   string `json:"handle,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// DisplayName returns "Prenom Nom", falling back to username then email.
func (u User) DisplayName() string {
	full := strings.TrimSpace(strings.TrimSpace(u.Prenom) + " " + strings.TrimSpace(u.Nom))
	switch {
	case full != "":
		return full
	case u.Username != "":
		return u.Username
	default:
		return u.Email
	}
}

// Session is the authenticated identity of the local user.
type Session struct {
	Credentials Credentials `json:"credentials"`
	User        *User       `json:"user,omitempty"`
}

// IsAuthenticated reports whether the session carries a credential.
func (s Session) IsAuthenticated() bool {
	return !s.Credentials.IsZero()
}
