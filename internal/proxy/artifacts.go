package proxy

import (
	"os"
	"path/filepath"
)

// Artifacts keeps per-session on-disk copies of the raw and rewritten manifest
// text under <root>/<stream-id>/. The in-memory session remains the serving
// source; the files exist for inspection and survive until the session is
// evicted.
type Artifacts struct {
	root string
}

// NewArtifacts returns an Artifacts store rooted at root.
func NewArtifacts(root string) *Artifacts {
	return &Artifacts{root: root}
}

// Dir returns the artifact directory for a session.
func (a *Artifacts) Dir(id StreamID) string {
	return filepath.Join(a.root, string(id))
}

// Save writes one named artifact for the session, creating the directory as
// needed.
func (a *Artifacts) Save(id StreamID, name string, data []byte) error {
	dir := a.Dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

// Remove deletes the session's artifact directory.
func (a *Artifacts) Remove(id StreamID) error {
	return os.RemoveAll(a.Dir(id))
}
