package types

import (
	"regexp"

	"github.com/tidwall/gjson"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var chatRoomRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// IsValidChannel checks the channel against the fixed set plus chat rooms.
func IsValidChannel(c Channel) bool {
	switch c {
	case ChannelProgress,
		ChannelLeaderboard,
		ChannelStreak,
		ChannelDashboard,
		ChannelAchievements:
		return true
	}
	if c.IsChat() {
		return chatRoomRegex.MatchString(string(c)[len(ChannelChatPrefix):])
	}
	return false
}

// ParseEnvelope parses a raw frame into an Envelope. The frame must be a JSON
// object with a non-empty string "type".
func ParseEnvelope(channel Channel, data []byte) (*Envelope, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, ErrInvalidJSON
	}
	t := root.Get("type")
	if t.Type != gjson.String || t.Str == "" {
		return nil, ErrInvalidEnvelope
	}
	raw := make([]byte, len(data))
	copy(raw, data)
	return &Envelope{Type: t.Str, Channel: channel, Raw: raw}, nil
}

// Int returns an integer field, or fallback when missing or not a number.
// TECHNICAL DISCOVERY: real-time payloads are best-effort; absent fields keep
// the previous known value instead of zeroing it
func (e *Envelope) Int(path string, fallback int) int {
	r := gjson.GetBytes(e.Raw, path)
	if r.Type != gjson.Number {
		return fallback
	}
	return int(r.Int())
}

// HasNumber reports whether path holds a number.
func (e *Envelope) HasNumber(path string) bool {
	return gjson.GetBytes(e.Raw, path).Type == gjson.Number
}

// String returns a string field, or fallback when missing.
func (e *Envelope) String(path, fallback string) string {
	r := gjson.GetBytes(e.Raw, path)
	if r.Type != gjson.String {
		return fallback
	}
	return r.Str
}

// Badge extracts a badge object at path. ok is false when the id is missing.
func (e *Envelope) Badge(path string) (Badge, bool) {
	r := gjson.GetBytes(e.Raw, path)
	if !r.IsObject() || r.Get("id").Type != gjson.Number {
		return Badge{}, false
	}
	return Badge{
		ID:   r.Get("id").Int(),
		Name: r.Get("name").String(),
		Icon: r.Get("icon").String(),
	}, true
}
