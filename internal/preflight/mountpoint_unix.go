//go:build !windows

package preflight

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// validateMountPoint guards against writing into a "ghost" directory: a
// destination that lives on the root filesystem only because the intended
// external drive isn't actually mounted there. Home-directory targets are
// always allowed, since backing up to a local user folder is ordinarily
// intentional rather than a missing-mount accident. Grounded on
// pkg/preflight/preflight_unix.go's platformValidateMountPoint.
func validateMountPoint(path string) error {
	if home, err := os.UserHomeDir(); err == nil && strings.HasPrefix(path, home) {
		return nil
	}

	rootInfo, err := os.Stat("/")
	if err != nil {
		return fmt.Errorf("preflight: statting root filesystem: %w", err)
	}
	rootStat, ok := rootInfo.Sys().(*unix.Stat_t)
	if !ok {
		return nil // Sys() shape unsupported on this platform; nothing to compare.
	}

	pathInfo, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("preflight: statting %q: %w", path, err)
	}
	pathStat, ok := pathInfo.Sys().(*unix.Stat_t)
	if !ok {
		return nil
	}

	if pathStat.Dev == rootStat.Dev && path != "/" {
		return fmt.Errorf("preflight: %q resolves to the root filesystem; the intended volume may not be mounted", path)
	}
	return nil
}
