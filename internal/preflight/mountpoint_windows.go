//go:build windows

package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// validateMountPoint verifies the drive or network share root behind path
// actually exists, e.g. that "Z:\backup" isn't pointing at a drive letter
// nothing is currently mounted on. Grounded on
// pkg/preflight/preflight_windows.go's platformValidateMountPoint.
func validateMountPoint(path string) error {
	volume := filepath.VolumeName(path)
	if volume == "" {
		return nil
	}

	root := volume
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	root = filepath.Clean(root)

	if _, err := os.Stat(root); os.IsNotExist(err) {
		return fmt.Errorf("preflight: volume root %q does not exist; ensure the drive is connected", root)
	}
	return nil
}
