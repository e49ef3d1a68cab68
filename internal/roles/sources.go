package roles

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kingrea/converge/internal/config"
)

// Syncer materializes configured role sources under the project's roles dir
// so the Loader can find them by name.
type Syncer struct {
	targetDir string
	// runGit is swappable for tests.
	runGit func(args ...string) error
}

// NewSyncer builds a syncer that writes into targetDir.
func NewSyncer(targetDir string) *Syncer {
	return &Syncer{
		targetDir: targetDir,
		runGit: func(args ...string) error {
			cmd := exec.Command("git", args...)
			var out strings.Builder
			cmd.Stdout = &out
			cmd.Stderr = &out
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(out.String()))
			}
			return nil
		},
	}
}

// Sync ensures every configured role source is present. Git sources are
// cloned once and pulled afterwards; local sources become symlinks.
func (s *Syncer) Sync(refs []config.RoleRef, projectDir string) error {
	if err := os.MkdirAll(s.targetDir, 0o755); err != nil {
		return fmt.Errorf("roles: ensure %s: %w", s.targetDir, err)
	}
	for _, ref := range refs {
		dest := filepath.Join(s.targetDir, ref.Name)
		switch ref.Source {
		case "git":
			if err := s.syncGit(ref, dest); err != nil {
				return err
			}
		case "local":
			if err := s.syncLocal(ref, dest, projectDir); err != nil {
				return err
			}
		default:
			return fmt.Errorf("roles: %s: unknown source %q", ref.Name, ref.Source)
		}
	}
	return nil
}

func (s *Syncer) syncGit(ref config.RoleRef, dest string) error {
	if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil {
		if err := s.runGit("-C", dest, "pull", "--ff-only"); err != nil {
			return fmt.Errorf("roles: update %s: %w", ref.Name, err)
		}
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("roles: stat %s: %w", dest, err)
	}
	if err := s.runGit("clone", ref.Repository, dest); err != nil {
		return fmt.Errorf("roles: clone %s: %w", ref.Name, err)
	}
	return nil
}

func (s *Syncer) syncLocal(ref config.RoleRef, dest, projectDir string) error {
	src := ref.Path
	if !filepath.IsAbs(src) {
		src = filepath.Join(projectDir, src)
	}
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("roles: local source %s: %w", ref.Name, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("roles: local source %s: %s is not a directory", ref.Name, src)
	}
	existing, err := os.Lstat(dest)
	if err == nil {
		if existing.Mode()&os.ModeSymlink != 0 {
			current, _ := os.Readlink(dest)
			if current == src {
				return nil
			}
			if err := os.Remove(dest); err != nil {
				return fmt.Errorf("roles: replace link %s: %w", dest, err)
			}
		} else {
			return fmt.Errorf("roles: %s already exists and is not a link", dest)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("roles: lstat %s: %w", dest, err)
	}
	if err := os.Symlink(src, dest); err != nil {
		return fmt.Errorf("roles: link %s -> %s: %w", dest, src, err)
	}
	return nil
}
