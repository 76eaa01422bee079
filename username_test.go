package forumsso

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"go.pilab.hu/forumsso/domain"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_-]*$`)

func assertWellFormedUsername(t *testing.T, username string) {
	t.Helper()
	assert.Regexp(t, usernamePattern, username)
	assert.NotContains(t, username, "__")
	assert.False(t, strings.HasPrefix(username, "_"), "leading underscore in %q", username)
	assert.False(t, strings.HasSuffix(username, "_"), "trailing underscore in %q", username)
}

func TestSanitizeUsername(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"Jane Doe", "jane_doe"},
		{"jane_doe", "jane_doe"},
		{"  Jane   Doe  ", "jane_doe"},
		{"__jane__doe__", "jane_doe"},
		{"Mood-Tracker 2000!", "mood-tracker_2000"},
		{"Zoë Ångström", "zo_ngstr_m"},
		{"日本語", ""},
		{"!!!", ""},
		{"", ""},
		{"a\xffb", "a_b"},
		{"-dash-", "-dash-"},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got := SanitizeUsername(tc.in)
			assert.Equal(t, tc.want, got)
			assertWellFormedUsername(t, got)
			assert.Equal(t, got, SanitizeUsername(got), "sanitization must be idempotent")
		})
	}
}

func FuzzSanitizeUsername(f *testing.F) {
	for _, seed := range []string{"", "Jane Doe", "___", "ÀÉÎ", "a__b", "\x00\x01", "😀 smile"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		got := SanitizeUsername(in)
		assertWellFormedUsername(t, got)
		assert.Equal(t, got, SanitizeUsername(got))
	})
}

func TestDeriveUsername(t *testing.T) {
	testCases := []struct {
		name string
		user domain.User
		want string
	}{
		{"display name wins", domain.User{ID: "1", DisplayName: "Night Owl", Name: "Jane Doe", Email: "jane@example.com"}, "night_owl"},
		{"name when no display name", domain.User{ID: "1", Name: "Jane Doe", Email: "jane@example.com"}, "jane_doe"},
		{"blank display name skipped", domain.User{ID: "1", DisplayName: "   ", Name: "Jane Doe"}, "jane_doe"},
		{"email local part", domain.User{ID: "1", Email: "Jane.Doe@example.com"}, "jane_doe"},
		{"unusable names fall back to id", domain.User{ID: "64f0c2", DisplayName: "日本語"}, "user_64f0c2"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveUsername(&tc.user))
		})
	}
}

func TestProjectUser(t *testing.T) {
	user := &domain.User{
		ID:    "42",
		Name:  "Jane Doe",
		Email: "jane@example.com",
		Image: "https://cdn.example.com/jane.png",
	}

	p := ProjectUser(user, "nonce-1")
	assert.Equal(t, Payload{
		Nonce:      "nonce-1",
		Email:      "jane@example.com",
		Username:   "jane_doe",
		Name:       "Jane Doe",
		ExternalID: "42",
		AvatarURL:  "https://cdn.example.com/jane.png",
	}, p)
	assert.False(t, p.Admin)
	assert.False(t, p.Moderator)

	named := ProjectUser(&domain.User{ID: "7", DisplayName: "Owl", Email: "o@example.com"}, "n")
	assert.Equal(t, "Owl", named.Name)
}
