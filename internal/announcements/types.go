package announcements

import (
	"fmt"
)

// Announcement is an operator-issued system notice.
type Announcement struct {
	Room    string `json:"room"`
	Message string `json:"message"`
}

func (a *Announcement) Validate(requireRoom bool) error {
	if a.Message == "" {
		return fmt.Errorf("empty message")
	}
	if requireRoom && a.Room == "" {
		return fmt.Errorf("missing room")
	}
	return nil
}
