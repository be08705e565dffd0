package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mercure-chat/core/pkg/models"
)

// The backend has shipped several payload shapes over time. The decoders in
// this file accept all of them and produce the models types.

// ExtractList returns the elements of a list payload: a bare array, an array
// under one of keys, or an array under data.<key>. Anything else is empty.
func ExtractList(raw json.RawMessage, keys ...string) []json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	var list []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err == nil {
			return list
		}
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	var data map[string]json.RawMessage
	if nested, ok := obj["data"]; ok {
		_ = json.Unmarshal(nested, &data)
	}

	for _, key := range keys {
		if v, ok := obj[key]; ok {
			if err := json.Unmarshal(v, &list); err == nil && list != nil {
				return list
			}
		}
		if v, ok := data[key]; ok {
			if err := json.Unmarshal(v, &list); err == nil && list != nil {
				return list
			}
		}
	}
	return nil
}

// unwrap returns raw[key] when raw is an object whose key holds an object,
// else raw.
func unwrap(raw json.RawMessage, key string) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	if v := bytes.TrimSpace(obj[key]); len(v) > 0 && v[0] == '{' {
		return v
	}
	return raw
}

type wireUser struct {
	ID       models.FlexInt    `json:"id"`
	Nom      models.FlexString `json:"nom"`
	Prenom   models.FlexString `json:"prenom"`
	Email    string            `json:"email"`
	Username string            `json:"username"`
	Handle   string            `json:"handle"`
	Avatar   string            `json:"avatar"`
}

func (w wireUser) model() models.User {
	return models.User{
		ID:       w.ID.Int64(),
		Nom:      w.Nom.String(),
		Prenom:   w.Prenom.String(),
		Email:    w.Email,
		Username: w.Username,
		Handle:   w.Handle,
		Avatar:   w.Avatar,
	}
}

// DecodeUser decodes a profile, bare or under "user"/"user_info".
func DecodeUser(raw json.RawMessage) (models.User, error) {
	raw = unwrap(unwrap(raw, "user_info"), "user")
	var w wireUser
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.User{}, err
	}
	return w.model(), nil
}

type wireWorkspace struct {
	ID        models.FlexInt    `json:"id"`
	Name      string            `json:"name"`
	Icon      string            `json:"icon"`
	OwnerID   models.FlexInt    `json:"ownerId"`
	CreatedAt models.FlexString `json:"createdAt"`
}

// DecodeWorkspace decodes one workspace entry, unwrapping an optional
// "workspace" envelope.
func DecodeWorkspace(raw json.RawMessage) (models.Workspace, error) {
	var w wireWorkspace
	if err := json.Unmarshal(unwrap(raw, "workspace"), &w); err != nil {
		return models.Workspace{}, err
	}
	name := w.Name
	if name == "" {
		name = fmt.Sprintf("Workspace %d", w.ID)
	}
	return models.Workspace{
		ID:        w.ID.Int64(),
		Name:      name,
		Icon:      w.Icon,
		OwnerID:   w.OwnerID.Int64(),
		CreatedAt: w.CreatedAt.String(),
	}, nil
}

type wireChannel struct {
	ID          models.FlexInt `json:"id"`
	WorkspaceID models.FlexInt `json:"workspaceId"`
	Name        string         `json:"name"`
	IsPrivate   bool           `json:"isPrivate"`
	Category    *string        `json:"category"`
	Position    *int           `json:"position"`
}

// DecodeChannel decodes one channel entry.
func DecodeChannel(raw json.RawMessage) (models.Channel, error) {
	var w wireChannel
	if err := json.Unmarshal(unwrap(raw, "channel"), &w); err != nil {
		return models.Channel{}, err
	}
	ch := models.Channel{
		ID:          w.ID.Int64(),
		WorkspaceID: w.WorkspaceID.Int64(),
		Name:        w.Name,
		IsPrivate:   w.IsPrivate,
		Position:    w.Position,
	}
	if ch.Name == "" {
		ch.Name = fmt.Sprintf("channel-%d", ch.ID)
	}
	if w.Category != nil {
		ch.Category = strings.TrimSpace(*w.Category)
	}
	return ch, nil
}

type wireDM struct {
	ID           models.FlexInt   `json:"id"`
	WorkspaceID  models.FlexInt   `json:"workspaceId"`
	Participants []models.FlexInt `json:"participants"`
}

// DecodeDM decodes one DM entry.
func DecodeDM(raw json.RawMessage) (models.DM, error) {
	var w wireDM
	if err := json.Unmarshal(unwrap(raw, "dm"), &w); err != nil {
		return models.DM{}, err
	}
	dm := models.DM{
		ID:           w.ID.Int64(),
		WorkspaceID:  w.WorkspaceID.Int64(),
		Participants: make([]int64, 0, len(w.Participants)),
	}
	for _, p := range w.Participants {
		dm.Participants = append(dm.Participants, p.Int64())
	}
	return dm, nil
}

type wireMember struct {
	UserID   models.FlexInt `json:"userId"`
	ID       models.FlexInt `json:"id"`
	Username string         `json:"username"`
	Email    string         `json:"email"`
	Avatar   string         `json:"avatar"`
	Role     string         `json:"role"`
	User     *wireUser      `json:"user"`
}

// DecodeMember decodes one member entry. Flat fields win over the nested
// "user" object: id from userId, id, then user.id; username from username,
// user.username, user.email, then "User {id}".
func DecodeMember(raw json.RawMessage) (models.Member, error) {
	var w wireMember
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.Member{}, err
	}
	nested := wireUser{}
	if w.User != nil {
		nested = *w.User
	}

	m := models.Member{Role: w.Role}
	m.ID = firstNonZero(w.UserID.Int64(), w.ID.Int64(), nested.ID.Int64())
	m.Email = firstNonEmpty(w.Email, nested.Email)
	m.Avatar = firstNonEmpty(w.Avatar, nested.Avatar)
	m.Username = firstNonEmpty(w.Username, nested.Username, nested.Email)
	if m.Username == "" {
		m.Username = fmt.Sprintf("User %d", m.ID)
	}
	return m, nil
}

type wireMessage struct {
	ID             models.FlexInt    `json:"id"`
	ChannelID      models.FlexInt    `json:"channelId"`
	DMID           models.FlexInt    `json:"dmId"`
	SenderID       models.FlexInt    `json:"senderId"`
	SenderUsername string            `json:"senderUsername"`
	SenderAvatar   string            `json:"senderAvatar"`
	Content        models.FlexString `json:"content"`
	CreatedAt      models.FlexString `json:"createdAt"`
}

// DecodeMessage decodes a message, bare or under "message".
func DecodeMessage(raw json.RawMessage) (models.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(unwrap(raw, "message"), &w); err != nil {
		return models.Message{}, err
	}
	return models.Message{
		ID:             w.ID.Int64(),
		ChannelID:      w.ChannelID.Int64(),
		DMID:           w.DMID.Int64(),
		SenderID:       w.SenderID.Int64(),
		SenderUsername: w.SenderUsername,
		SenderAvatar:   w.SenderAvatar,
		Content:        w.Content.String(),
		CreatedAt:      w.CreatedAt.String(),
	}, nil
}

// decodeList applies decode to every element of a list payload. Elements
// that fail to decode or carry no id are skipped.
func decodeList[T any](raw json.RawMessage, decode func(json.RawMessage) (T, error), id func(T) int64, keys ...string) []T {
	items := ExtractList(raw, keys...)
	out := make([]T, 0, len(items))
	for _, item := range items {
		v, err := decode(item)
		if err != nil || id(v) == 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

// LoginResult is a normalized login or refresh response.
type LoginResult struct {
	Credentials models.Credentials
	User        *models.User
}

type wireLogin struct {
	AccessToken       string          `json:"access_token"`
	AccessTokenCamel  string          `json:"accessToken"`
	RefreshToken      string          `json:"refresh_token"`
	RefreshTokenCamel string          `json:"refreshToken"`
	Cookie            string          `json:"cookie"`
	UserInfo          json.RawMessage `json:"user_info"`
}

// DecodeLogin normalizes the token pair (snake or camel case), the legacy
// cookie, and the optional user_info.
func DecodeLogin(raw json.RawMessage) (LoginResult, error) {
	var w wireLogin
	if err := json.Unmarshal(raw, &w); err != nil {
		return LoginResult{}, err
	}
	res := LoginResult{Credentials: models.Credentials{
		AccessToken:  firstNonEmpty(w.AccessToken, w.AccessTokenCamel),
		RefreshToken: firstNonEmpty(w.RefreshToken, w.RefreshTokenCamel),
	}}
	if res.Credentials.AccessToken == "" {
		res.Credentials = models.Credentials{Cookie: w.Cookie}
	}
	if len(w.UserInfo) > 0 && !bytes.Equal(bytes.TrimSpace(w.UserInfo), []byte("null")) {
		user, err := DecodeUser(w.UserInfo)
		if err == nil {
			res.User = &user
		}
	}
	return res, nil
}

func firstNonZero(values ...int64) int64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
