package browser

import (
	"fmt"
	"os"
	"path/filepath"
)

// profileMarkers are entries the browser creates on first use of a user data dir
var profileMarkers = []string{"Default", "Profile 1", "Local State"}

// PrepareProfile creates dir if needed and returns its absolute path and whether it has been
// used by a browser before
func PrepareProfile(dir string) (string, bool, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve profile dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", false, fmt.Errorf("failed to create profile dir: %w", err)
	}
	return abs, ProfileInitialized(abs), nil
}

// ProfileInitialized reports whether dir contains any of the browser's profile markers
func ProfileInitialized(dir string) bool {
	for _, marker := range profileMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// effectiveHeadless applies the headless policy: a fresh profile needs a visible window for the
// first sign-in unless headless is forced
func effectiveHeadless(requested, force, initialized bool) (headless, downgraded bool) {
	if !requested {
		return false, false
	}
	if initialized || force {
		return true, false
	}
	return false, true
}
