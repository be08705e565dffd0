package store

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mercure-chat/core/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id int64, channel int64) models.Message {
	return models.Message{ID: id, ChannelID: channel, Content: "m"}
}

func ids(msgs []models.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestAppendMessageKeepsOrderAndDedupes(t *testing.T) {
	s := New()
	assert.True(t, s.AppendMessage(msg(5, 1)))
	assert.True(t, s.AppendMessage(msg(2, 1)))
	assert.True(t, s.AppendMessage(msg(9, 1)))
	assert.False(t, s.AppendMessage(msg(5, 1)), "duplicate id is a no-op")
	assert.True(t, s.AppendMessage(msg(7, 1)))

	assert.Equal(t, []int64{2, 5, 7, 9}, ids(s.Messages()))
}

func TestAppendMessageProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		s := New()
		seen := map[int64]bool{}
		for i := 0; i < 50; i++ {
			id := rng.Int63n(40) + 1
			inserted := s.AppendMessage(msg(id, 1))
			assert.Equal(t, !seen[id], inserted)
			seen[id] = true
		}

		got := ids(s.Messages())
		require.Len(t, got, len(seen))
		for i := 1; i < len(got); i++ {
			require.Less(t, got[i-1], got[i], "round %d: strictly ascending", round)
		}
	}
}

func TestSetMessagesSortsAndDedupes(t *testing.T) {
	s := New()
	s.SetMessages([]models.Message{msg(3, 1), msg(1, 1), msg(3, 1), msg(2, 1)})
	assert.Equal(t, []int64{1, 2, 3}, ids(s.Messages()))
}

func TestAppendToThreadOnlyActive(t *testing.T) {
	s := New()
	active := models.ChannelThread(1)
	s.SetActiveThread(active)

	assert.True(t, s.AppendToThread(active, msg(1, 1)))
	assert.False(t, s.AppendToThread(models.ChannelThread(2), msg(2, 2)), "other channel")
	assert.False(t, s.AppendToThread(active, models.Message{ID: 3, DMID: 1}), "dm with the same id")
	assert.False(t, s.AppendToThread(models.DMThread(1), models.Message{ID: 4, DMID: 1}), "inactive dm")

	assert.Equal(t, []int64{1}, ids(s.Messages()))
}

func TestSetActiveThreadClearsMessages(t *testing.T) {
	s := New()
	gen1 := s.SetActiveThread(models.ChannelThread(1))
	s.AppendMessage(msg(1, 1))

	assert.Equal(t, gen1, s.SetActiveThread(models.ChannelThread(1)), "same thread keeps generation")
	assert.Len(t, s.Messages(), 1)

	gen2 := s.SetActiveThread(models.DMThread(4))
	assert.Greater(t, gen2, gen1)
	assert.Empty(t, s.Messages())
	assert.Equal(t, models.DMThread(4), s.ActiveThread())
}

func TestMergeMessagesRefusesStaleGeneration(t *testing.T) {
	s := New()
	stale := s.SetActiveThread(models.ChannelThread(1))
	current := s.SetActiveThread(models.ChannelThread(2))

	assert.False(t, s.MergeMessages(stale, []models.Message{msg(1, 1)}))
	assert.Empty(t, s.Messages())

	assert.True(t, s.MergeMessages(current, []models.Message{msg(3, 2), msg(1, 2)}))
	assert.Equal(t, []int64{1, 3}, ids(s.Messages()))
}

func TestMergeMessagesConvergesWithStreamedAppends(t *testing.T) {
	thread := models.ChannelThread(1)
	page := []models.Message{msg(1, 1), msg(2, 1), msg(3, 1)}

	// Streamed messages arrive before the page lands.
	a := New()
	gen := a.SetActiveThread(thread)
	a.AppendToThread(thread, msg(4, 1))
	a.AppendToThread(thread, msg(3, 1))
	require.True(t, a.MergeMessages(gen, page))

	// And after.
	b := New()
	gen = b.SetActiveThread(thread)
	require.True(t, b.MergeMessages(gen, page))
	b.AppendToThread(thread, msg(3, 1))
	b.AppendToThread(thread, msg(4, 1))

	if diff := cmp.Diff(a.Messages(), b.Messages()); diff != "" {
		t.Errorf("message lists diverged (-streamed-first +page-first):\n%s", diff)
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(a.Messages()))
}

func TestSetMembersResolvesSelf(t *testing.T) {
	members := []models.Member{
		{ID: 1, Username: "zed", Email: "zed@x.org"},
		{ID: 2, Username: "ada", Email: "Ada@X.org", Role: models.RoleAdmin},
		{ID: 3, Username: "bob", Email: "bob@x.org"},
		{ID: 0, Username: "ghost"},
	}

	tests := []struct {
		name string
		self Identity
		want int64
	}{
		{"by id", Identity{ID: 3, Email: "ada@x.org"}, 3},
		{"id missing falls back to email", Identity{ID: 99, Email: " ada@x.org "}, 2},
		{"no match", Identity{ID: 99, Email: "nobody@x.org"}, 0},
		{"empty identity", Identity{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.SetMembers(members, tt.self)
			assert.Equal(t, tt.want, s.CurrentUserID())
		})
	}

	s := New()
	s.SetMembers(members, Identity{})
	got := s.Members()
	want := []models.Member{members[1], members[2], members[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Members() mismatch (-want +got):\n%s", diff)
	}
}

func TestSetMemberAvatar(t *testing.T) {
	s := New()
	s.SetMembers([]models.Member{{ID: 1, Username: "ada"}}, Identity{})

	assert.True(t, s.SetMemberAvatar(1, "https://astracode.dev/a.png"))
	assert.False(t, s.SetMemberAvatar(2, "x"))

	m, ok := s.Member(1)
	require.True(t, ok)
	assert.Equal(t, "https://astracode.dev/a.png", m.Avatar)
}

func TestApplyScopeRefusesStaleWorkspace(t *testing.T) {
	s := New()
	stale := s.SetActiveWorkspace(1)
	current := s.SetActiveWorkspace(2)

	scope := Scope{
		Members:  []models.Member{{ID: 7, Username: "ada"}},
		Self:     Identity{ID: 7},
		Channels: []models.Channel{{ID: 10, WorkspaceID: 1, Name: "general"}},
	}
	assert.False(t, s.ApplyScope(stale, scope))
	assert.Empty(t, s.Channels())
	assert.Empty(t, s.Members())

	scope.Channels[0].WorkspaceID = 2
	assert.True(t, s.ApplyScope(current, scope))
	assert.Equal(t, int64(7), s.CurrentUserID())
	assert.True(t, s.HasThread(models.ChannelThread(10)))
	assert.False(t, s.HasThread(models.DMThread(10)))
}

func TestSetActiveWorkspaceClearsPresence(t *testing.T) {
	s := New()
	gen := s.SetActiveWorkspace(1)
	s.SetOnlineUserIDs([]int64{1, 2})

	assert.Equal(t, gen, s.SetActiveWorkspace(1))
	assert.Equal(t, []int64{1, 2}, s.OnlineUserIDs())

	s.SetActiveWorkspace(2)
	assert.Empty(t, s.OnlineUserIDs())
}

func TestPresence(t *testing.T) {
	s := New()
	s.SetOnlineUserIDs([]int64{3, 1, 0})
	assert.Equal(t, []int64{1, 3}, s.OnlineUserIDs())

	s.SetUserOnline(2, true)
	s.SetUserOnline(3, false)
	assert.Equal(t, []int64{1, 2}, s.OnlineUserIDs())
	assert.True(t, s.IsOnline(2))
	assert.False(t, s.IsOnline(3))
}

func TestConcurrentPresenceUpdatesAreNotLost(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := int64(1); i <= 100; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			s.SetUserOnline(id, true)
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.OnlineUserIDs(), 100)
}

func TestLastEvent(t *testing.T) {
	s := New()
	_, ok := s.LastEvent()
	assert.False(t, ok)

	s.SetLastEvent(models.Event{Type: models.EventPresence, UserID: 4, Online: true})
	ev, ok := s.LastEvent()
	require.True(t, ok)
	assert.Equal(t, int64(4), ev.UserID)
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	s := New()
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	s.SetScopeLoading(true)
	s.SetScopeLoading(true) // unchanged, not broadcast
	s.SetChannels([]models.Channel{{ID: 1, Name: "general"}})

	u := <-ch
	assert.Equal(t, UpdateScopeLoading, u.Type)
	assert.Equal(t, true, u.Payload)

	u = <-ch
	assert.Equal(t, UpdateChannels, u.Type)
	assert.Len(t, u.Payload.([]models.Channel), 1)
	assert.Empty(t, ch)
}

func TestUnsubscribeTwice(t *testing.T) {
	s := New()
	ch := s.Subscribe()
	s.Unsubscribe(ch)
	assert.NotPanics(t, func() { s.Unsubscribe(ch) })
}

func TestGetReturnsCopies(t *testing.T) {
	s := New()
	s.SetDMs([]models.DM{{ID: 1, Participants: []int64{1, 2}}})
	s.SetMembers([]models.Member{{ID: 1, Username: "ada"}}, Identity{ID: 1})

	st := s.Get()
	st.DMs[0].Participants[0] = 99
	st.Members[2] = models.Member{ID: 2}

	assert.Equal(t, []int64{1, 2}, s.DMs()[0].Participants)
	assert.Len(t, s.Members(), 1)
}

func TestResetRefusesInFlightLoads(t *testing.T) {
	s := New()
	wsGen := s.SetActiveWorkspace(1)
	threadGen := s.SetActiveThread(models.ChannelThread(1))
	s.SetWorkspaces([]models.Workspace{{ID: 1, Name: "w"}})

	s.Reset()

	assert.False(t, s.ApplyScope(wsGen, Scope{Channels: []models.Channel{{ID: 1}}}))
	assert.False(t, s.MergeMessages(threadGen, []models.Message{msg(1, 1)}))
	assert.Empty(t, s.Workspaces())
	assert.Zero(t, s.ActiveWorkspaceID())
	assert.True(t, s.ActiveThread().IsZero())
}
