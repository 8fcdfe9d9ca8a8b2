package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive_Deterministic(t *testing.T) {
	dir := t.TempDir()

	a, err := Derive(dir, "workstation-1")
	require.NoError(t, err)
	b, err := Derive(dir, "workstation-1")
	require.NoError(t, err)

	assert.Equal(t, a.Topic(), b.Topic())
	assert.Equal(t, a.Marker(), b.Marker())
}

func TestDerive_DistinctProjects(t *testing.T) {
	a, err := Derive(t.TempDir(), "host")
	require.NoError(t, err)
	b, err := Derive(t.TempDir(), "host")
	require.NoError(t, err)

	assert.NotEqual(t, a.Topic(), b.Topic(), "different directories route to different topics")
}

func TestDerive_UsesOverride(t *testing.T) {
	id, err := Derive(t.TempDir(), "My Build Box")
	require.NoError(t, err)

	assert.Equal(t, "my-build-box", id.Hostname)
	assert.Contains(t, id.Marker(), "my-build-box")
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Simple", "simple"},
		{"with spaces", "with-spaces"},
		{"dots.and/slashes", "dots-and-slashes"},
		{"  trimmed  ", "trimmed"},
		{"under_score-ok9", "under_score-ok9"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitize(tt.in), tt.in)
	}
}
