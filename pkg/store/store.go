package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/mercure-chat/core/pkg/models"
)

// Store is the in-memory domain store for one logged-in session.
// It is thread-safe and supports pub/sub for real-time updates.
//
// Selection changes bump a generation counter. Loaders capture the
// generation before their network call and pass it back when applying the
// result, so a response for a previous selection never overwrites newer state.
type Store struct {
	mu          sync.RWMutex
	subscribers map[chan Update]struct{}

	workspaces      []models.Workspace
	activeWorkspace int64
	channels        []models.Channel
	dms             []models.DM
	members         map[int64]models.Member
	currentUserID   int64
	activeThread    models.Thread
	messages        []models.Message
	online          map[int64]struct{}
	lastEvent       *models.Event
	scopeLoading    bool

	workspaceGen uint64
	threadGen    uint64
}

// New creates a new Store instance.
func New() *Store {
	return &Store{
		subscribers: make(map[chan Update]struct{}),
		members:     make(map[int64]models.Member),
		online:      make(map[int64]struct{}),
	}
}

// Get returns a copy of the current state.
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make(map[int64]models.Member, len(s.members))
	for id, m := range s.members {
		members[id] = m
	}
	st := State{
		Workspaces:        append([]models.Workspace(nil), s.workspaces...),
		ActiveWorkspaceID: s.activeWorkspace,
		Channels:          append([]models.Channel(nil), s.channels...),
		DMs:               copyDMs(s.dms),
		Members:           members,
		CurrentUserID:     s.currentUserID,
		ActiveThread:      s.activeThread,
		Messages:          append([]models.Message(nil), s.messages...),
		OnlineUserIDs:     s.onlineIDsLocked(),
		ScopeLoading:      s.scopeLoading,
	}
	if s.lastEvent != nil {
		ev := *s.lastEvent
		st.LastEvent = &ev
	}
	return st
}

// ---- Workspaces ----

// SetWorkspaces replaces the workspace list.
func (s *Store) SetWorkspaces(list []models.Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces = append([]models.Workspace(nil), list...)
	s.broadcast(UpdateWorkspaces, append([]models.Workspace(nil), s.workspaces...))
}

// Workspaces returns a copy of the workspace list.
func (s *Store) Workspaces() []models.Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Workspace(nil), s.workspaces...)
}

// SetActiveWorkspace selects a workspace and returns the workspace
// generation to pass to ApplyScope. Selecting the already active workspace
// keeps the current generation. The presence set is workspace-scoped and is
// cleared on change.
func (s *Store) SetActiveWorkspace(id int64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.activeWorkspace {
		return s.workspaceGen
	}
	s.activeWorkspace = id
	s.workspaceGen++
	s.online = make(map[int64]struct{})
	s.broadcast(UpdateActiveWorkspace, id)
	s.broadcast(UpdatePresence, []int64{})
	return s.workspaceGen
}

// ActiveWorkspaceID returns the selected workspace, or 0.
func (s *Store) ActiveWorkspaceID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeWorkspace
}

// WorkspaceSelection returns the active workspace and its generation read
// together.
func (s *Store) WorkspaceSelection() (int64, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeWorkspace, s.workspaceGen
}

// WorkspaceGeneration returns the current workspace generation.
func (s *Store) WorkspaceGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workspaceGen
}

// ---- Scope ----

// SetChannels replaces the channel list. Channels are kept in sidebar order.
func (s *Store) SetChannels(list []models.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setChannelsLocked(list)
}

func (s *Store) setChannelsLocked(list []models.Channel) {
	s.channels = append([]models.Channel(nil), list...)
	models.SortChannels(s.channels)
	s.broadcast(UpdateChannels, append([]models.Channel(nil), s.channels...))
}

// Channels returns a copy of the channel list.
func (s *Store) Channels() []models.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Channel(nil), s.channels...)
}

// SetDMs replaces the DM list.
func (s *Store) SetDMs(list []models.DM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setDMsLocked(list)
}

func (s *Store) setDMsLocked(list []models.DM) {
	s.dms = copyDMs(list)
	s.broadcast(UpdateDMs, copyDMs(s.dms))
}

// DMs returns a copy of the DM list.
func (s *Store) DMs() []models.DM {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyDMs(s.dms)
}

// HasThread reports whether thread names a channel or DM of the loaded scope.
func (s *Store) HasThread(thread models.Thread) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch thread.Kind {
	case models.ThreadChannel:
		for _, ch := range s.channels {
			if ch.ID == thread.ID {
				return true
			}
		}
	case models.ThreadDM:
		for _, dm := range s.dms {
			if dm.ID == thread.ID {
				return true
			}
		}
	}
	return false
}

// SetMembers replaces the member map and resolves the local member: by id
// first, then by case-insensitive email.
func (s *Store) SetMembers(list []models.Member, self Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setMembersLocked(list, self)
}

func (s *Store) setMembersLocked(list []models.Member, self Identity) {
	members := make(map[int64]models.Member, len(list))
	for _, m := range list {
		if m.ID == 0 {
			continue
		}
		members[m.ID] = m
	}
	s.members = members
	s.currentUserID = resolveSelf(members, self)
	s.broadcast(UpdateMembers, sortedMembers(members))
}

func resolveSelf(members map[int64]models.Member, self Identity) int64 {
	if self.ID != 0 {
		if _, ok := members[self.ID]; ok {
			return self.ID
		}
	}
	if email := strings.TrimSpace(self.Email); email != "" {
		for id, m := range members {
			if strings.EqualFold(strings.TrimSpace(m.Email), email) {
				return id
			}
		}
	}
	return 0
}

// SetMemberAvatar patches one member's avatar. It reports whether the
// member exists.
func (s *Store) SetMemberAvatar(id int64, avatar string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return false
	}
	m.Avatar = avatar
	s.members[id] = m
	s.broadcast(UpdateMembers, sortedMembers(s.members))
	return true
}

// Members returns the members sorted admin-first, then by username.
func (s *Store) Members() []models.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedMembers(s.members)
}

// Member returns one member by id.
func (s *Store) Member(id int64) (models.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	return m, ok
}

// CurrentUserID returns the member id of the local user, or 0 when the
// member list does not contain them.
func (s *Store) CurrentUserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUserID
}

// ApplyScope replaces members, channels and DMs in one step. It is refused
// when gen no longer matches the workspace generation.
func (s *Store) ApplyScope(gen uint64, scope Scope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.workspaceGen {
		return false
	}
	s.setMembersLocked(scope.Members, scope.Self)
	s.setChannelsLocked(scope.Channels)
	s.setDMsLocked(scope.DMs)
	return true
}

// SetScopeLoading flags a scope load in progress.
func (s *Store) SetScopeLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scopeLoading == loading {
		return
	}
	s.scopeLoading = loading
	s.broadcast(UpdateScopeLoading, loading)
}

// ScopeLoading reports whether a scope load is in progress.
func (s *Store) ScopeLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scopeLoading
}

// ---- Threads and messages ----

// SetActiveThread selects a thread and returns the thread generation to
// pass to MergeMessages. Changing the thread clears the message list;
// selecting the active thread again keeps both.
func (s *Store) SetActiveThread(thread models.Thread) uint64 {
	if thread.IsZero() {
		thread = models.Thread{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if thread == s.activeThread {
		return s.threadGen
	}
	s.activeThread = thread
	s.threadGen++
	s.messages = nil
	s.broadcast(UpdateActiveThread, thread)
	s.broadcast(UpdateMessages, []models.Message{})
	return s.threadGen
}

// ActiveThread returns the selected thread.
func (s *Store) ActiveThread() models.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeThread
}

// ThreadSelection returns the active thread and its generation read together.
func (s *Store) ThreadSelection() (models.Thread, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeThread, s.threadGen
}

// ThreadGeneration returns the current thread generation.
func (s *Store) ThreadGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threadGen
}

// SetMessages replaces the message list, sorted ascending by id with
// duplicate ids dropped.
func (s *Store) SetMessages(list []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = models.SortMessages(append([]models.Message(nil), list...))
	s.broadcast(UpdateMessages, append([]models.Message(nil), s.messages...))
}

// MergeMessages applies a loaded page for the thread selected at gen. The
// page is unioned with messages already streamed in so a reload racing
// realtime appends converges to the same list. It reports whether the page
// was applied.
func (s *Store) MergeMessages(gen uint64, list []models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.threadGen {
		return false
	}
	merged := make([]models.Message, 0, len(list)+len(s.messages))
	merged = append(merged, list...)
	merged = append(merged, s.messages...)
	s.messages = models.SortMessages(merged)
	s.broadcast(UpdateMessages, append([]models.Message(nil), s.messages...))
	return true
}

// AppendMessage inserts msg keeping the list ascending by id. It is a no-op
// when the id is already present, and reports whether msg was inserted.
func (s *Store) AppendMessage(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(msg)
}

// AppendToThread appends msg only when thread is the active thread and msg
// belongs to it. The check and the insert happen under one lock.
func (s *Store) AppendToThread(thread models.Thread, msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if thread.IsZero() || thread != s.activeThread || !thread.Contains(msg) {
		return false
	}
	return s.appendLocked(msg)
}

func (s *Store) appendLocked(msg models.Message) bool {
	i := sort.Search(len(s.messages), func(i int) bool { return s.messages[i].ID >= msg.ID })
	if i < len(s.messages) && s.messages[i].ID == msg.ID {
		return false
	}
	s.messages = append(s.messages, models.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = msg
	s.broadcast(UpdateMessages, append([]models.Message(nil), s.messages...))
	return true
}

// Messages returns a copy of the active thread's messages.
func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message(nil), s.messages...)
}

// ---- Presence ----

// SetOnlineUserIDs replaces the presence set.
func (s *Store) SetOnlineUserIDs(ids []int64) {
	s.UpdateOnlineUserIDs(func(set map[int64]struct{}) {
		for id := range set {
			delete(set, id)
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
	})
}

// UpdateOnlineUserIDs applies fn to the presence set under the store lock,
// so concurrent presence events never lose each other's writes.
func (s *Store) UpdateOnlineUserIDs(fn func(set map[int64]struct{})) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.online)
	delete(s.online, 0)
	s.broadcast(UpdatePresence, s.onlineIDsLocked())
}

// SetUserOnline adds or removes one id from the presence set.
func (s *Store) SetUserOnline(id int64, online bool) {
	s.UpdateOnlineUserIDs(func(set map[int64]struct{}) {
		if online {
			set[id] = struct{}{}
		} else {
			delete(set, id)
		}
	})
}

// IsOnline reports whether id is in the presence set.
func (s *Store) IsOnline(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[id]
	return ok
}

// OnlineUserIDs returns the presence set in ascending order.
func (s *Store) OnlineUserIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onlineIDsLocked()
}

func (s *Store) onlineIDsLocked() []int64 {
	ids := make([]int64, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ---- Events ----

// SetLastEvent records the latest realtime event.
func (s *Store) SetLastEvent(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEvent = &ev
	s.broadcast(UpdateEvent, ev)
}

// LastEvent returns the latest realtime event.
func (s *Store) LastEvent() (models.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastEvent == nil {
		return models.Event{}, false
	}
	return *s.lastEvent, true
}

// Reset returns the store to its initial state, as after logout.
// Subscribers stay registered. Generations keep counting so loads started
// before the reset are refused.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces = nil
	s.activeWorkspace = 0
	s.channels = nil
	s.dms = nil
	s.members = make(map[int64]models.Member)
	s.currentUserID = 0
	s.activeThread = models.Thread{}
	s.messages = nil
	s.online = make(map[int64]struct{})
	s.lastEvent = nil
	s.scopeLoading = false
	s.workspaceGen++
	s.threadGen++

	s.broadcast(UpdateWorkspaces, []models.Workspace{})
	s.broadcast(UpdateActiveWorkspace, int64(0))
	s.broadcast(UpdateActiveThread, models.Thread{})
	s.broadcast(UpdateMessages, []models.Message{})
}

// ---- Subscriptions ----

// Subscribe creates a new subscription channel for state updates.
func (s *Store) Subscribe() chan Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Update, 100) // Buffered
	s.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Store) Unsubscribe(ch chan Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[ch]; !ok {
		return
	}
	delete(s.subscribers, ch)
	close(ch)
}

// broadcast must be called with mu held.
func (s *Store) broadcast(t UpdateType, payload interface{}) {
	u := Update{Type: t, Payload: payload}
	for ch := range s.subscribers {
		select {
		case ch <- u:
		default:
			// Non-blocking send so a slow subscriber cannot stall writers
		}
	}
}

func sortedMembers(members map[int64]models.Member) []models.Member {
	out := make([]models.Member, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	models.SortMembers(out)
	return out
}

func copyDMs(list []models.DM) []models.DM {
	if list == nil {
		return nil
	}
	out := make([]models.DM, len(list))
	for i, dm := range list {
		dm.Participants = append([]int64(nil), dm.Participants...)
		out[i] = dm
	}
	return out
}
