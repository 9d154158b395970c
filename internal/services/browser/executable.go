package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

func exeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// driverName returns the WebDriver executable for vendor
func driverName(vendor Vendor) string {
	if vendor == VendorEdge {
		return exeName("msedgedriver")
	}
	return exeName("chromedriver")
}

// ResolveDriver finds the WebDriver executable. A directory argument is joined with the
// platform executable name, a file argument is used as is, and an empty argument falls back to PATH.
func ResolveDriver(vendor Vendor, arg string) (string, error) {
	name := driverName(vendor)
	if arg == "" {
		path, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s not on PATH", ErrExecutableNotFound, name)
		}
		return path, nil
	}

	info, err := os.Stat(arg)
	if err == nil && info.IsDir() {
		arg = filepath.Join(arg, name)
		info, err = os.Stat(arg)
	}
	if err == nil && !info.IsDir() {
		return arg, nil
	}

	// Bare names are looked up on PATH
	if path, lookErr := exec.LookPath(arg); lookErr == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, arg)
}

func browserCandidates(vendor Vendor) []string {
	switch {
	case vendor == VendorEdge && runtime.GOOS == "windows":
		return []string{
			`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
			`C:\Program Files\Microsoft\Edge\Application\msedge.exe`,
			"msedge.exe",
		}
	case vendor == VendorEdge && runtime.GOOS == "darwin":
		return []string{"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"}
	case vendor == VendorEdge:
		return []string{"microsoft-edge", "microsoft-edge-stable", "msedge"}
	case runtime.GOOS == "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			"chrome.exe",
		}
	case runtime.GOOS == "darwin":
		return []string{"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"}
	default:
		return []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"}
	}
}

// ResolveBrowser finds the browser executable, preferring an explicit path
func ResolveBrowser(vendor Vendor, explicit string) (string, error) {
	locations := browserCandidates(vendor)
	if explicit != "" {
		locations = []string{explicit}
	}

	for _, location := range locations {
		path, err := exec.LookPath(location)
		if err != nil {
			continue
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s browser not found in %v", ErrExecutableNotFound, vendor, locations)
}
