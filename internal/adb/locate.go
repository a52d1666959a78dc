package adb

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/acolita/adbwifi/internal/ports"
)

// DefaultSearchPaths are the SDK locations tried when adb is not on PATH.
func DefaultSearchPaths() []string {
	return []string{
		"$ANDROID_HOME/platform-tools",
		"$ANDROID_SDK_ROOT/platform-tools",
		"~/Android/Sdk/platform-tools",
		"~/Library/Android/sdk/platform-tools",
		"/opt/android-sdk*/platform-tools",
		"/usr/lib/android-sdk/platform-tools",
	}
}

// ErrNotFound is returned by Locate when no executable matched.
var ErrNotFound = errors.New("adb executable not found")

// Locate resolves command to an executable path. A command containing a
// slash is used as is; otherwise PATH is searched first, then every glob in
// searchPaths with "~" and environment variables expanded.
func Locate(command string, searchPaths []string, fsys ports.FileSystem) (string, error) {
	if strings.ContainsRune(command, '/') {
		if isExecutable(fsys, command) {
			return command, nil
		}
		return "", fmt.Errorf("%w: %s", ErrNotFound, command)
	}
	if path, err := exec.LookPath(command); err == nil {
		return path, nil
	}

	for _, root := range searchPaths {
		dir, ok := expandPath(root, fsys)
		if !ok {
			continue
		}
		base, pattern := doublestar.SplitPattern(filepath.ToSlash(filepath.Join(dir, command)))
		matches, err := doublestar.Glob(fsys.DirFS(base), pattern, doublestar.WithFilesOnly())
		if err != nil {
			continue
		}
		for _, m := range matches {
			if path := filepath.Join(base, filepath.FromSlash(m)); isExecutable(fsys, path) {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, command)
}

// expandPath expands a leading "~" and $VARS. It reports false when a
// variable the path depends on is unset.
func expandPath(p string, fsys ports.FileSystem) (string, bool) {
	ok := true
	p = os.Expand(p, func(key string) string {
		v := fsys.Getenv(key)
		if v == "" {
			ok = false
		}
		return v
	})
	if !ok {
		return "", false
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := fsys.UserHomeDir()
		if err != nil || home == "" {
			return "", false
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p, true
}

func isExecutable(fsys ports.FileSystem, path string) bool {
	info, err := fsys.Stat(path)
	return err == nil && !info.IsDir() && info.Mode().Perm()&0o111 != 0
}
