package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/pkg/models"
)

// MaxMessagePage is the largest page the message list endpoint serves.
const MaxMessagePage = 80

// DMUserPageSize is the page size of the DM picker.
const DMUserPageSize = 20

// ---- Workspaces ----

// ListWorkspaces returns the workspaces of the logged-in user.
func (c *Client) ListWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	var raw json.RawMessage
	if err := c.post(ctx, c.messaging("/workspaces/list"), map[string]interface{}{}, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw, DecodeWorkspace, func(w models.Workspace) int64 { return w.ID }, "items", "workspaces"), nil
}

// CreateWorkspace creates a workspace. icon is optional.
func (c *Client) CreateWorkspace(ctx context.Context, name, icon string) (models.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Workspace{}, errors.InvalidInput("workspace name is required")
	}
	body := map[string]interface{}{"name": name}
	if icon != "" {
		body["icon"] = icon
	}

	var raw json.RawMessage
	if err := c.post(ctx, c.messaging("/workspaces/create"), body, &raw); err != nil {
		return models.Workspace{}, err
	}
	ws, err := DecodeWorkspace(raw)
	if err != nil {
		return models.Workspace{}, errors.DecodeFailure(c.messaging("/workspaces/create"), err)
	}
	return ws, nil
}

// UploadWorkspaceIcon uploads an icon image as multipart form data.
func (c *Client) UploadWorkspaceIcon(ctx context.Context, workspaceID int64, filename string, r io.Reader) error {
	// Buffered so a retry after refresh can resend it.
	content, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read icon")
	}

	body := func(creds models.Credentials) (io.Reader, string, error) {
		var buf bytes.Buffer
		form := multipart.NewWriter(&buf)
		if err := form.WriteField("workspaceId", strconv.FormatInt(workspaceID, 10)); err != nil {
			return nil, "", err
		}
		if creds.Kind() == models.CredentialLegacy {
			if err := form.WriteField("cookie", creds.Cookie); err != nil {
				return nil, "", err
			}
		}
		part, err := form.CreateFormFile("file", filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(content); err != nil {
			return nil, "", err
		}
		if err := form.Close(); err != nil {
			return nil, "", err
		}
		return &buf, form.FormDataContentType(), nil
	}

	resp, err := c.authenticated(ctx, http.MethodPost, c.messaging("/workspaces/icon/upload"), body, nil)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return statusError(resp)
	}
	return nil
}

// ---- Members ----

// ListMembers returns the members of a workspace.
func (c *Client) ListMembers(ctx context.Context, workspaceID int64) ([]models.Member, error) {
	var raw json.RawMessage
	body := map[string]interface{}{"workspaceId": workspaceID}
	if err := c.post(ctx, c.messaging("/workspaces/members/list"), body, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw, DecodeMember, func(m models.Member) int64 { return m.ID }, "members", "items", "data"), nil
}

// AddMember adds an existing user to a workspace.
func (c *Client) AddMember(ctx context.Context, workspaceID, userID int64) error {
	body := map[string]interface{}{"workspaceId": workspaceID, "userId": userID}
	return c.post(ctx, c.messaging("/workspaces/members/add"), body, nil)
}

// AddMemberByEmail invites a user by email with role member or admin.
func (c *Client) AddMemberByEmail(ctx context.Context, workspaceID int64, email, role string) error {
	if role == "" {
		role = models.RoleMember
	}
	if role != models.RoleMember && role != models.RoleAdmin {
		return errors.InvalidInput("role must be member or admin").WithDetail("role", role)
	}
	body := map[string]interface{}{"workspaceId": workspaceID, "email": strings.TrimSpace(email), "role": role}
	return c.post(ctx, c.messaging("/workspaces/members/add-by-email"), body, nil)
}

// OnlineMembers returns the ids of members with a live realtime connection.
func (c *Client) OnlineMembers(ctx context.Context, workspaceID int64) ([]int64, error) {
	var raw json.RawMessage
	body := map[string]interface{}{"workspaceId": workspaceID}
	if err := c.post(ctx, c.messaging("/workspaces/members/online"), body, &raw); err != nil {
		return nil, err
	}

	items := ExtractList(raw, "userIds", "online", "onlineUserIds", "members", "items")
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		var id models.FlexInt
		if err := json.Unmarshal(item, &id); err == nil {
			if id != 0 {
				ids = append(ids, id.Int64())
			}
			continue
		}
		if m, err := DecodeMember(item); err == nil && m.ID != 0 {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

// ---- Channels ----

// ListChannels returns the channels of a workspace.
func (c *Client) ListChannels(ctx context.Context, workspaceID int64) ([]models.Channel, error) {
	var raw json.RawMessage
	body := map[string]interface{}{"workspaceId": workspaceID}
	if err := c.post(ctx, c.messaging("/channels/list"), body, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw, DecodeChannel, func(ch models.Channel) int64 { return ch.ID }, "channels", "items"), nil
}

// CreateChannel creates a channel. category is optional.
func (c *Client) CreateChannel(ctx context.Context, workspaceID int64, name string, isPrivate bool, category string) (models.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Channel{}, errors.InvalidInput("channel name is required")
	}
	body := map[string]interface{}{"workspaceId": workspaceID, "name": name, "isPrivate": isPrivate}
	if category = strings.TrimSpace(category); category != "" {
		body["category"] = category
	}

	var raw json.RawMessage
	if err := c.post(ctx, c.messaging("/channels/create"), body, &raw); err != nil {
		return models.Channel{}, err
	}
	ch, err := DecodeChannel(raw)
	if err != nil {
		return models.Channel{}, errors.DecodeFailure(c.messaging("/channels/create"), err)
	}
	return ch, nil
}

// RenameChannel renames a channel.
func (c *Client) RenameChannel(ctx context.Context, channelID int64, name string) error {
	body := map[string]interface{}{"channelId": channelID, "name": strings.TrimSpace(name)}
	return c.post(ctx, c.messaging("/channels/rename"), body, nil)
}

// DeleteChannel deletes a channel.
func (c *Client) DeleteChannel(ctx context.Context, channelID int64) error {
	body := map[string]interface{}{"channelId": channelID}
	return c.post(ctx, c.messaging("/channels/delete"), body, nil)
}

// ChannelUpdate carries the sidebar placement of a channel. Nil fields are
// left unchanged; an empty Category moves the channel to the uncategorized
// bucket.
type ChannelUpdate struct {
	Category *string
	Position *int
}

// UpdateChannel moves a channel between categories or positions.
func (c *Client) UpdateChannel(ctx context.Context, channelID int64, update ChannelUpdate) error {
	body := map[string]interface{}{"channelId": channelID}
	if update.Category != nil {
		if cat := strings.TrimSpace(*update.Category); cat != "" {
			body["category"] = cat
		} else {
			body["category"] = nil
		}
	}
	if update.Position != nil {
		body["position"] = *update.Position
	}
	return c.post(ctx, c.messaging("/channels/update"), body, nil)
}

// AddChannelMember grants a user access to a private channel.
func (c *Client) AddChannelMember(ctx context.Context, channelID, userID int64) error {
	body := map[string]interface{}{"channelId": channelID, "userId": userID}
	return c.post(ctx, c.messaging("/channels/members/add"), body, nil)
}

// ---- Direct messages ----

// ListDMs returns the DM threads of a workspace.
func (c *Client) ListDMs(ctx context.Context, workspaceID int64) ([]models.DM, error) {
	var raw json.RawMessage
	body := map[string]interface{}{"workspaceId": workspaceID}
	if err := c.post(ctx, c.messaging("/dms/list"), body, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw, DecodeDM, func(dm models.DM) int64 { return dm.ID }, "dms", "items"), nil
}

// OpenDM opens (or returns the existing) DM with a participant.
func (c *Client) OpenDM(ctx context.Context, workspaceID, participantID int64) (models.DM, error) {
	var raw json.RawMessage
	body := map[string]interface{}{"workspaceId": workspaceID, "participantUserId": participantID}
	if err := c.post(ctx, c.messaging("/dms/open"), body, &raw); err != nil {
		return models.DM{}, err
	}
	dm, err := DecodeDM(raw)
	if err != nil {
		return models.DM{}, errors.DecodeFailure(c.messaging("/dms/open"), err)
	}
	return dm, nil
}

type wireDMUser struct {
	ID       models.FlexInt `json:"id"`
	UserID   models.FlexInt `json:"userId"`
	Username string         `json:"username"`
	Email    string         `json:"email"`
	Avatar   string         `json:"avatar"`
	IsFriend bool           `json:"isFriend"`
}

// ListDMUsers searches users a DM can be opened with.
func (c *Client) ListDMUsers(ctx context.Context, workspaceID int64, query string, onlyFriends bool) ([]models.DMUser, error) {
	body := map[string]interface{}{"workspaceId": workspaceID, "onlyFriends": onlyFriends, "limit": DMUserPageSize}
	if q := strings.TrimSpace(query); q != "" {
		body["query"] = q
	}

	var raw json.RawMessage
	if err := c.post(ctx, c.messaging("/dms/users/list"), body, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw, func(item json.RawMessage) (models.DMUser, error) {
		var w wireDMUser
		if err := json.Unmarshal(item, &w); err != nil {
			return models.DMUser{}, err
		}
		return models.DMUser{
			ID:       firstNonZero(w.UserID.Int64(), w.ID.Int64()),
			Username: firstNonEmpty(w.Username, w.Email),
			Email:    w.Email,
			Avatar:   w.Avatar,
			IsFriend: w.IsFriend,
		}, nil
	}, func(u models.DMUser) int64 { return u.ID }, "users", "items"), nil
}

// ---- Friends ----

// Friend request directions and responses.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"

	StatusPending = "pending"
)

// ListFriends returns accepted friends.
func (c *Client) ListFriends(ctx context.Context, workspaceID int64) ([]models.Friend, error) {
	var raw json.RawMessage
	body := map[string]interface{}{"workspaceId": workspaceID}
	if err := c.post(ctx, c.messaging("/friends/list"), body, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw, func(item json.RawMessage) (models.Friend, error) {
		m, err := DecodeMember(item)
		if err != nil {
			return models.Friend{}, err
		}
		return models.Friend{UserID: m.ID, Username: m.Username, Email: m.Email, Avatar: m.Avatar}, nil
	}, func(f models.Friend) int64 { return f.UserID }, "friends", "items"), nil
}

type wireFriendRequest struct {
	ID         models.FlexInt `json:"id"`
	FromUserID models.FlexInt `json:"fromUserId"`
	ToUserID   models.FlexInt `json:"toUserId"`
	Status     string         `json:"status"`
	Username   string         `json:"username"`
	Email      string         `json:"email"`
}

// ListFriendRequests lists requests in one direction. status defaults to pending.
func (c *Client) ListFriendRequests(ctx context.Context, workspaceID int64, direction, status string) ([]models.FriendRequest, error) {
	if direction != DirectionIncoming && direction != DirectionOutgoing {
		return nil, errors.InvalidInput("direction must be incoming or outgoing").WithDetail("direction", direction)
	}
	if status == "" {
		status = StatusPending
	}

	var raw json.RawMessage
	body := map[string]interface{}{"workspaceId": workspaceID, "direction": direction, "status": status}
	if err := c.post(ctx, c.messaging("/friends/requests/list"), body, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw, func(item json.RawMessage) (models.FriendRequest, error) {
		var w wireFriendRequest
		if err := json.Unmarshal(item, &w); err != nil {
			return models.FriendRequest{}, err
		}
		return models.FriendRequest{
			ID:         w.ID.Int64(),
			FromUserID: w.FromUserID.Int64(),
			ToUserID:   w.ToUserID.Int64(),
			Status:     w.Status,
			Username:   w.Username,
			Email:      w.Email,
		}, nil
	}, func(r models.FriendRequest) int64 { return r.ID }, "requests", "items"), nil
}

// SendFriendRequest sends a request to a user.
func (c *Client) SendFriendRequest(ctx context.Context, workspaceID, userID int64) error {
	body := map[string]interface{}{"workspaceId": workspaceID, "userId": userID}
	return c.post(ctx, c.messaging("/friends/request"), body, nil)
}

// SendFriendRequestByEmail sends a request to a user by email.
func (c *Client) SendFriendRequestByEmail(ctx context.Context, workspaceID int64, email string) error {
	body := map[string]interface{}{"workspaceId": workspaceID, "email": strings.TrimSpace(email)}
	return c.post(ctx, c.messaging("/friends/request-by-email"), body, nil)
}

// RespondFriendRequest accepts or declines a request.
func (c *Client) RespondFriendRequest(ctx context.Context, workspaceID, requestID int64, accept bool) error {
	action := "decline"
	if accept {
		action = "accept"
	}
	body := map[string]interface{}{"workspaceId": workspaceID, "requestId": requestID, "action": action}
	return c.post(ctx, c.messaging("/friends/respond"), body, nil)
}

// RemoveFriend removes a friend.
func (c *Client) RemoveFriend(ctx context.Context, workspaceID, userID int64) error {
	body := map[string]interface{}{"workspaceId": workspaceID, "userId": userID}
	return c.post(ctx, c.messaging("/friends/remove"), body, nil)
}

// ---- Messages ----

func threadBody(thread models.Thread) (map[string]interface{}, error) {
	switch {
	case thread.IsZero():
		return nil, errors.NoActiveThread()
	case thread.Kind == models.ThreadChannel:
		return map[string]interface{}{"channelId": thread.ID}, nil
	default:
		return map[string]interface{}{"dmId": thread.ID}, nil
	}
}

// ListMessages returns the latest messages of a thread, ascending by id.
// limit is clamped to 1..MaxMessagePage.
func (c *Client) ListMessages(ctx context.Context, thread models.Thread, limit int) ([]models.Message, error) {
	body, err := threadBody(thread)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxMessagePage {
		limit = MaxMessagePage
	}
	body["limit"] = limit

	var raw json.RawMessage
	if err := c.post(ctx, c.messaging("/messages/list"), body, &raw); err != nil {
		return nil, err
	}
	msgs := decodeList(raw, DecodeMessage, func(m models.Message) int64 { return m.ID }, "messages", "items")
	return models.SortMessages(msgs), nil
}

// SendMessage posts content to a thread and returns the stored message.
func (c *Client) SendMessage(ctx context.Context, thread models.Thread, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, errors.InvalidInput("message content is empty")
	}
	body, err := threadBody(thread)
	if err != nil {
		return models.Message{}, err
	}
	body["content"] = content

	var raw json.RawMessage
	if err := c.post(ctx, c.messaging("/messages/send"), body, &raw); err != nil {
		return models.Message{}, err
	}
	msg, err := DecodeMessage(raw)
	if err != nil {
		return models.Message{}, errors.DecodeFailure(c.messaging("/messages/send"), err)
	}
	// Some backends omit the thread in the echo.
	if msg.ChannelID == 0 && msg.DMID == 0 {
		if thread.Kind == models.ThreadChannel {
			msg.ChannelID = thread.ID
		} else {
			msg.DMID = thread.ID
		}
	}
	return msg, nil
}
