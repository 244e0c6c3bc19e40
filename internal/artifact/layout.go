package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const stagingDirName = ".staging"

// FSError describes a failed filesystem operation on the artifact tree.
// These are logged and never fatal.
type FSError struct {
	Op   string
	Path string
	Err  error
}

func (e *FSError) Error() string {
	return fmt.Sprintf("artifact %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FSError) Unwrap() error { return e.Err }

// Layout describes where downloaded media lives on disk:
//
//	<root>/guild_<id>/          finished artifacts, swept by the reaper
//	<root>/.staging/<id>/       in-progress downloads, never swept
type Layout struct {
	Root string
}

func NewLayout(root string) (Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, &FSError{Op: "resolve", Path: root, Err: err}
	}
	return Layout{Root: abs}, nil
}

func (l Layout) GuildDir(guildID string) string {
	return filepath.Join(l.Root, "guild_"+safeID(guildID))
}

func (l Layout) StagingDir(guildID string) string {
	return filepath.Join(l.Root, stagingDirName, safeID(guildID))
}

// EnsureGuildDirs creates the guild's artifact and staging directories.
func (l Layout) EnsureGuildDirs(guildID string) error {
	for _, dir := range []string{l.GuildDir(guildID), l.StagingDir(guildID)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &FSError{Op: "mkdir", Path: dir, Err: err}
		}
	}
	return nil
}

// safeID keeps guild ids usable as a single path element.
func safeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." {
		return "_"
	}
	return strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(id)
}
