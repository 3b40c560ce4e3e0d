package types

import (
	"errors"
	"testing"
)

// Functional Validation Tests - Channels

func TestIsValidChannel(t *testing.T) {
	tests := []struct {
		channel Channel
		want    bool
	}{
		{ChannelProgress, true},
		{ChannelLeaderboard, true},
		{ChannelStreak, true},
		{ChannelDashboard, true},
		{ChannelAchievements, true},
		{ChatChannel("tutor_room-1"), true},
		{ChatChannel(""), false},
		{ChatChannel("has space"), false},
		{ChatChannel("a/b"), false},
		{"", false},
		{"notifications", false},
		{"Progress", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.channel), func(t *testing.T) {
			if got := IsValidChannel(tt.channel); got != tt.want {
				t.Errorf("IsValidChannel(%q) = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}
}

func TestChannel_IsChat(t *testing.T) {
	if !ChatChannel("tutor").IsChat() {
		t.Error("chat channel not recognized")
	}
	if ChannelProgress.IsChat() {
		t.Error("progress is not a chat channel")
	}
	if got := ChatChannel("tutor").String(); got != "chat/tutor" {
		t.Errorf("String() = %q", got)
	}
}

// Functional Validation Tests - Envelope

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr error
		want    string
	}{
		{"valid", `{"type":"xp_gained","amount":50}`, nil, EventXPGained},
		{"not json", `{"type":`, ErrInvalidJSON, ""},
		{"array", `[1,2]`, ErrInvalidJSON, ""},
		{"missing type", `{"amount":50}`, ErrInvalidEnvelope, ""},
		{"empty type", `{"type":""}`, ErrInvalidEnvelope, ""},
		{"numeric type", `{"type":7}`, ErrInvalidEnvelope, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope(ChannelProgress, []byte(tt.frame))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseEnvelope() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if env.Type != tt.want || env.Channel != ChannelProgress {
				t.Errorf("got type %q channel %q", env.Type, env.Channel)
			}
		})
	}
}

func TestEnvelope_FieldFallbacks(t *testing.T) {
	env, err := ParseEnvelope(ChannelLeaderboard, []byte(`{"type":"user_xp_updated","user_id":"u1","xp":"lots","level":3,"badge":{"id":4,"name":"Scholar","icon":"book"}}`))
	if err != nil {
		t.Fatal(err)
	}

	if got := env.String("user_id", ""); got != "u1" {
		t.Errorf("String(user_id) = %q", got)
	}
	if got := env.Int("xp", 99); got != 99 {
		t.Errorf("Int(xp) with string value = %d, want fallback 99", got)
	}
	if got := env.Int("level", 0); got != 3 {
		t.Errorf("Int(level) = %d", got)
	}
	if env.HasNumber("missing") {
		t.Error("HasNumber(missing) = true")
	}
	badge, ok := env.Badge("badge")
	if !ok || badge.ID != 4 || badge.Name != "Scholar" {
		t.Errorf("Badge() = %+v, %v", badge, ok)
	}
	if _, ok := env.Badge("nope"); ok {
		t.Error("Badge(nope) should be missing")
	}
}

func TestEnvelope_RawIsCopied(t *testing.T) {
	frame := []byte(`{"type":"level_up","new_level":5}`)
	env, err := ParseEnvelope(ChannelProgress, frame)
	if err != nil {
		t.Fatal(err)
	}
	frame[2] = 'X'
	if got := env.Int("new_level", 0); got != 5 {
		t.Errorf("envelope changed with caller buffer: %d", got)
	}
}

// Functional Validation Tests - Snapshot

func TestProgressSnapshot_CloneIsDeep(t *testing.T) {
	orig := ProgressSnapshot{
		XP:             100,
		Badges:         []Badge{{ID: 1, Name: "First"}},
		CourseProgress: map[string]float64{"go-101": 0.5},
	}
	cp := orig.Clone()
	cp.Badges[0].Name = "changed"
	cp.CourseProgress["go-101"] = 1

	if orig.Badges[0].Name != "First" || orig.CourseProgress["go-101"] != 0.5 {
		t.Error("Clone shares memory with the original")
	}
	if !orig.HasBadge(1) || orig.HasBadge(2) {
		t.Error("HasBadge mismatch")
	}
}
