package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/pkg/models"
)

// Login exchanges an email and password for a session.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var raw json.RawMessage
	body := map[string]interface{}{"email": strings.TrimSpace(email), "password": password}
	if err := c.Request(ctx, http.MethodPost, c.accounts("/login"), body, &raw); err != nil {
		return LoginResult{}, err
	}

	res, err := DecodeLogin(raw)
	if err != nil {
		return LoginResult{}, errors.DecodeFailure(c.accounts("/login"), err)
	}
	if res.Credentials.IsZero() {
		return LoginResult{}, errors.New(errors.ErrCodeDecode, "login response carried no credential")
	}
	return res, nil
}

// RefreshTokens exchanges a refresh token for a new pair. It has the
// session.RefreshFunc signature.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (models.Credentials, error) {
	var raw json.RawMessage
	body := map[string]interface{}{"refresh_token": refreshToken}
	if err := c.Request(ctx, http.MethodPost, c.accounts("/refresh"), body, &raw); err != nil {
		return models.Credentials{}, err
	}

	res, err := DecodeLogin(raw)
	if err != nil {
		return models.Credentials{}, errors.DecodeFailure(c.accounts("/refresh"), err)
	}
	return res.Credentials, nil
}

// AccountInfo returns the profile of the logged-in user.
func (c *Client) AccountInfo(ctx context.Context) (models.User, error) {
	var raw json.RawMessage
	if err := c.post(ctx, c.accounts("/account-info"), map[string]interface{}{}, &raw); err != nil {
		return models.User{}, err
	}
	user, err := DecodeUser(raw)
	if err != nil {
		return models.User{}, errors.DecodeFailure(c.accounts("/account-info"), err)
	}
	return user, nil
}

// UserInfo is one entry of a users-info lookup.
type UserInfo struct {
	Email  string
	Nom    string
	Prenom string
	Avatar string
}

// UsersInfo looks up profiles for several emails in one call.
func (c *Client) UsersInfo(ctx context.Context, emails []string) ([]UserInfo, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	var raw json.RawMessage
	if err := c.post(ctx, c.accounts("/users-info"), map[string]interface{}{"emails": emails}, &raw); err != nil {
		return nil, err
	}

	items := ExtractList(raw, "users", "items")
	out := make([]UserInfo, 0, len(items))
	for _, item := range items {
		u, err := DecodeUser(item)
		if err != nil || u.Email == "" {
			continue
		}
		out = append(out, UserInfo{Email: u.Email, Nom: u.Nom, Prenom: u.Prenom, Avatar: u.Avatar})
	}
	return out, nil
}

// CheckSession asks the backend whether the current credential is valid.
func (c *Client) CheckSession(ctx context.Context) (bool, error) {
	var res struct {
		Valid bool `json:"valid"`
	}
	resp, err := c.AuthenticatedRequest(ctx, http.MethodPost, c.accounts("/check"), map[string]interface{}{}, &res)
	if err != nil {
		return false, err
	}
	if resp.Status == http.StatusUnauthorized {
		return false, nil
	}
	return res.Valid, nil
}

// ProfileAvatar returns the avatar reference stored in the profile service.
// An empty email asks for the logged-in user.
func (c *Client) ProfileAvatar(ctx context.Context, email string) (string, error) {
	body := map[string]interface{}{}
	if email = strings.TrimSpace(email); email != "" {
		body["email"] = email
	}

	var res struct {
		AvatarURL      string `json:"avatar_url"`
		AvatarURLCamel string `json:"avatarUrl"`
		Avatar         string `json:"avatar"`
	}
	if err := c.post(ctx, c.profile("/avatar"), body, &res); err != nil {
		return "", err
	}
	return firstNonEmpty(res.AvatarURL, res.AvatarURLCamel, res.Avatar), nil
}
