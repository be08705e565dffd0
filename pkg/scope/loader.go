// Package scope loads workspace-scoped data from the backend into the
// domain store.
package scope

import (
	"context"
	"strings"
	"time"

	"github.com/mercure-chat/core/pkg/api"
	"github.com/mercure-chat/core/pkg/avatar"
	"github.com/mercure-chat/core/pkg/models"
	"github.com/mercure-chat/core/pkg/store"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultChannelName is created when a workspace has no channel.
const DefaultChannelName = "general"

// API is the subset of the backend client the loader calls.
type API interface {
	ListWorkspaces(ctx context.Context) ([]models.Workspace, error)
	ListMembers(ctx context.Context, workspaceID int64) ([]models.Member, error)
	ListChannels(ctx context.Context, workspaceID int64) ([]models.Channel, error)
	ListDMs(ctx context.Context, workspaceID int64) ([]models.DM, error)
	CreateChannel(ctx context.Context, workspaceID int64, name string, isPrivate bool, category string) (models.Channel, error)
	UsersInfo(ctx context.Context, emails []string) ([]api.UserInfo, error)
	OnlineMembers(ctx context.Context, workspaceID int64) ([]int64, error)
	ListMessages(ctx context.Context, thread models.Thread, limit int) ([]models.Message, error)
}

// Profile supplies the cached profile of the local user.
type Profile interface {
	User() *models.User
}

// Result is what a scope load resolved to. Stale is set when the selection
// moved on during the load and the store was left untouched.
type Result struct {
	Members  []models.Member
	Channels []models.Channel
	DMs      []models.DM
	Stale    bool
}

// Loader fetches scopes and applies them to a store.
type Loader struct {
	api     API
	store   *store.Store
	profile Profile
	avatars avatar.Resolver
	lookups *cache.Cache
	logger  *logrus.Entry
}

// Option configures a Loader.
type Option func(*Loader)

// WithAvatarResolver sets the avatar rules.
func WithAvatarResolver(r avatar.Resolver) Option {
	return func(l *Loader) { l.avatars = r }
}

// WithLookupTTL sets how long batched avatar lookups are cached per email.
func WithLookupTTL(ttl time.Duration) Option {
	return func(l *Loader) { l.lookups = cache.New(ttl, 2*ttl) }
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(l *Loader) { l.logger = log }
}

// New creates a Loader. profile may be nil.
func New(client API, st *store.Store, profile Profile, opts ...Option) *Loader {
	l := &Loader{
		api:     client,
		store:   st,
		profile: profile,
		avatars: avatar.Default,
		lookups: cache.New(10*time.Minute, 20*time.Minute),
		logger:  logrus.NewEntry(logrus.StandardLogger()).WithField("component", "scope"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadWorkspaces fetches the workspace list and publishes it. When no
// workspace is active, or the active one is gone, the first is selected.
func (l *Loader) LoadWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	list, err := l.api.ListWorkspaces(ctx)
	if err != nil {
		return nil, err
	}
	l.store.SetWorkspaces(list)

	active := l.store.ActiveWorkspaceID()
	found := false
	for _, ws := range list {
		if ws.ID == active {
			found = true
			break
		}
	}
	if !found {
		next := int64(0)
		if len(list) > 0 {
			next = list[0].ID
		}
		l.store.SetActiveWorkspace(next)
	}

	l.logger.WithField("count", len(list)).Debug("Loaded workspaces")
	return list, nil
}

// LoadWorkspaceScope fetches members, channels and DMs concurrently and
// applies them when workspaceID is still the active workspace.
func (l *Loader) LoadWorkspaceScope(ctx context.Context, workspaceID int64) (Result, error) {
	active, gen := l.store.WorkspaceSelection()
	applicable := active == workspaceID

	if applicable {
		l.store.SetScopeLoading(true)
		defer l.store.SetScopeLoading(false)
	}

	var res Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		members, err := l.api.ListMembers(gctx, workspaceID)
		res.Members = members
		return err
	})
	g.Go(func() error {
		channels, err := l.channels(gctx, workspaceID)
		res.Channels = channels
		return err
	})
	g.Go(func() error {
		dms, err := l.api.ListDMs(gctx, workspaceID)
		res.DMs = dms
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	self := l.identity()
	res.Members = l.resolveMemberAvatars(ctx, res.Members, self)
	models.SortChannels(res.Channels)

	if !applicable || !l.store.ApplyScope(gen, store.Scope{
		Members:  res.Members,
		Self:     self.identity,
		Channels: res.Channels,
		DMs:      res.DMs,
	}) {
		l.logger.WithField("workspace_id", workspaceID).Debug("Discarding stale workspace scope")
		res.Stale = true
		return res, nil
	}

	l.logger.WithFields(logrus.Fields{
		"workspace_id": workspaceID,
		"members":      len(res.Members),
		"channels":     len(res.Channels),
		"dms":          len(res.DMs),
	}).Debug("Loaded workspace scope")
	return res, nil
}

// channels lists the channels of a workspace, creating the default channel
// first when there are none.
func (l *Loader) channels(ctx context.Context, workspaceID int64) ([]models.Channel, error) {
	channels, err := l.api.ListChannels(ctx, workspaceID)
	if err != nil || len(channels) > 0 {
		return channels, err
	}

	if _, err := l.api.CreateChannel(ctx, workspaceID, DefaultChannelName, false, ""); err != nil {
		l.logger.WithError(err).WithField("workspace_id", workspaceID).Warn("Failed to create default channel")
	}
	return l.api.ListChannels(ctx, workspaceID)
}

type selfProfile struct {
	identity store.Identity
	avatar   string
}

func (l *Loader) identity() selfProfile {
	if l.profile == nil {
		return selfProfile{}
	}
	user := l.profile.User()
	if user == nil {
		return selfProfile{}
	}
	return selfProfile{
		identity: store.Identity{ID: user.ID, Email: user.Email},
		avatar:   l.avatars.Resolve(user.Avatar),
	}
}

func (p selfProfile) matches(m models.Member) bool {
	if p.identity.ID != 0 && m.ID == p.identity.ID {
		return true
	}
	email := strings.TrimSpace(p.identity.Email)
	return email != "" && strings.EqualFold(strings.TrimSpace(m.Email), email)
}

// resolveMemberAvatars resolves every avatar and fills the missing ones from
// one batched users-info lookup. The local user's cached avatar wins over
// the lookup. Lookup failures leave avatars empty.
func (l *Loader) resolveMemberAvatars(ctx context.Context, members []models.Member, self selfProfile) []models.Member {
	out := make([]models.Member, len(members))
	var missing []string
	seen := make(map[string]bool)

	for i, m := range members {
		m.Avatar = l.avatars.Resolve(m.Avatar)
		if m.Avatar == "" && self.avatar != "" && self.matches(m) {
			m.Avatar = self.avatar
		}
		out[i] = m

		email := strings.ToLower(strings.TrimSpace(m.Email))
		if m.Avatar != "" || email == "" || seen[email] {
			continue
		}
		seen[email] = true
		if _, cached := l.lookups.Get(email); !cached {
			missing = append(missing, email)
		}
	}

	if len(missing) > 0 {
		infos, err := l.api.UsersInfo(ctx, missing)
		if err != nil {
			l.logger.WithError(err).WithField("emails", len(missing)).Debug("Avatar lookup failed")
		} else {
			for _, info := range infos {
				l.lookups.Set(strings.ToLower(strings.TrimSpace(info.Email)), l.avatars.Resolve(info.Avatar), cache.DefaultExpiration)
			}
			// Remember misses too so they are not asked for again on every load.
			for _, email := range missing {
				if _, ok := l.lookups.Get(email); !ok {
					l.lookups.Set(email, "", cache.DefaultExpiration)
				}
			}
		}
	}

	for i, m := range out {
		if m.Avatar != "" {
			continue
		}
		if v, ok := l.lookups.Get(strings.ToLower(strings.TrimSpace(m.Email))); ok {
			out[i].Avatar = v.(string)
		}
	}
	return out
}

// LoadPresence replaces the online set of workspaceID when it is still the
// active workspace.
func (l *Loader) LoadPresence(ctx context.Context, workspaceID int64) error {
	ids, err := l.api.OnlineMembers(ctx, workspaceID)
	if err != nil {
		return err
	}
	if l.store.ActiveWorkspaceID() != workspaceID {
		return nil
	}
	l.store.SetOnlineUserIDs(ids)
	return nil
}

// LoadMessages fetches the latest page of the active thread and merges it
// into the store. A page that lands after the thread changed is dropped.
func (l *Loader) LoadMessages(ctx context.Context) ([]models.Message, error) {
	thread, gen := l.store.ThreadSelection()
	if thread.IsZero() {
		l.store.SetMessages(nil)
		return nil, nil
	}

	msgs, err := l.api.ListMessages(ctx, thread, api.MaxMessagePage)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i] = l.Enrich(msgs[i])
	}

	if !l.store.MergeMessages(gen, msgs) {
		l.logger.WithField("thread", thread.String()).Debug("Discarding stale message page")
		return msgs, nil
	}
	return l.store.Messages(), nil
}

// Enrich resolves a message's sender avatar and fills sender details the
// payload left out from the loaded member list.
func (l *Loader) Enrich(msg models.Message) models.Message {
	msg.SenderAvatar = l.avatars.Resolve(msg.SenderAvatar)
	if msg.SenderID == 0 || (msg.SenderAvatar != "" && msg.SenderUsername != "") {
		return msg
	}
	if m, ok := l.store.Member(msg.SenderID); ok {
		if msg.SenderUsername == "" {
			msg.SenderUsername = m.Username
		}
		if msg.SenderAvatar == "" {
			msg.SenderAvatar = m.Avatar
		}
	}
	return msg
}
