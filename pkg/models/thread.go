package models

import "fmt"

// ThreadKind distinguishes channels from direct messages.
type ThreadKind string

const (
	ThreadChannel ThreadKind = "channel"
	ThreadDM      ThreadKind = "dm"
)

// Thread identifies the conversation in focus. The zero value means none.
type Thread struct {
	Kind ThreadKind `json:"type"`
	ID   int64      `json:"id"`
}

// ChannelThread returns the thread for a channel.
func ChannelThread(id int64) Thread { return Thread{Kind: ThreadChannel, ID: id} }

// DMThread returns the thread for a direct message.
func DMThread(id int64) Thread { return Thread{Kind: ThreadDM, ID: id} }

// IsZero reports whether no thread is selected.
func (t Thread) IsZero() bool { return t.Kind == "" || t.ID == 0 }

// Contains reports whether msg belongs to this thread.
func (t Thread) Contains(msg Message) bool {
	if t.IsZero() {
		return false
	}
	switch t.Kind {
	case ThreadChannel:
		return msg.ChannelID == t.ID
	case ThreadDM:
		return msg.DMID == t.ID
	}
	return false
}

func (t Thread) String() string {
	if t.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s:%d", t.Kind, t.ID)
}
