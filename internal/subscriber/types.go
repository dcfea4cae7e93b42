package subscriber

import "roomcast/internal/announcements"

// AnnouncementMessage represents any message received in the announcements pub/sub channel.
type AnnouncementMessage struct {
	Data   announcements.Announcement `json:"data"`
	Action Action                     `json:"action"`
}

type Action string

const (
	Notice    Action = "notice"
	Broadcast Action = "broadcast"
)

func (a *Action) IsValid() bool {
	switch *a {
	case Notice, Broadcast:
		return true
	}
	return false
}
