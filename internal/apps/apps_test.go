package apps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		running []string
		want    string
		ok      bool
	}{
		{"nothing running", nil, "", false},
		{"unknown processes", []string{"bash", "pipewire"}, "", false},
		{"single app", []string{"bash", "zoom"}, "Zoom", true},
		{"call app beats browser", []string{"firefox", "slack"}, "Slack", true},
		{"priority order", []string{"discord", "teams-for-linux"}, "Microsoft Teams", true},
		{"case and exe suffix", []string{"Discord.exe"}, "Discord", true},
		{"bundle identifier", []string{"com.apple.FaceTime"}, "FaceTime", true},
		{"dictation helper", []string{"nerd-dictation"}, "Dictation", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Lookup(tt.running)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTableHasNoDuplicateIdentifiers(t *testing.T) {
	t.Parallel()

	seen := make(map[string]App)
	for _, e := range table {
		for _, id := range e.ids {
			prev, dup := seen[id]
			assert.False(t, dup, "%q listed for %s and %s", id, prev, e.app)
			seen[id] = e.app
		}
	}
}
