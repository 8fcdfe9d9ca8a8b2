// ABOUTME: Deterministic per-machine, per-project instance identity.
// ABOUTME: Routes all notifications from one workstation to a stable channel topic.

package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Identity names the machine+project an agent process runs in. The
// derivation is pure: the same host and project directory always produce the
// same identity, which keeps notification routing stable across restarts.
type Identity struct {
	Hostname   string
	Project    string
	ProjectDir string
}

// Derive builds the identity for the given project directory. An empty
// projectDir falls back to the current working directory. nameOverride, when
// set, replaces the hostname component (useful when several machines share a
// hostname image).
func Derive(projectDir, nameOverride string) (*Identity, error) {
	if projectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		projectDir = wd
	}

	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolving project directory: %w", err)
	}

	host := nameOverride
	if host == "" {
		host, err = os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolving hostname: %w", err)
		}
	}

	return &Identity{
		Hostname:   sanitize(host),
		Project:    sanitize(filepath.Base(abs)),
		ProjectDir: abs,
	}, nil
}

// Topic is the channel topic all of this instance's notifications share:
// "<host>/<project>-<hash8>". The hash disambiguates projects with the same
// directory name checked out in different locations.
func (id *Identity) Topic() string {
	return fmt.Sprintf("%s/%s-%s", id.Hostname, id.Project, id.shortHash())
}

// Marker is the prefix stamped on every outbound notification so a human
// reading a busy channel can tell which workstation is talking.
func (id *Identity) Marker() string {
	return fmt.Sprintf("[%s:%s]", id.Hostname, id.Project)
}

func (id *Identity) shortHash() string {
	sum := sha256.Sum256([]byte(id.ProjectDir))
	return hex.EncodeToString(sum[:])[:8]
}

// sanitize lowercases and replaces characters that are awkward in channel
// topics with hyphens.
func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
