package driver

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var versionPattern = regexp.MustCompile(`\d+(\.\d+)+`)

// ParseVersion extracts the first dotted numeric token, e.g.
// "Google Chrome 120.0.6099.109 " -> "120.0.6099.109".
func ParseVersion(output string) (string, error) {
	v := versionPattern.FindString(output)
	if v == "" {
		return "", fmt.Errorf("no version number in %q", strings.TrimSpace(output))
	}
	return v, nil
}

// MajorVersion returns the leading component of a dotted version.
func MajorVersion(version string) (int, error) {
	head, _, _ := strings.Cut(version, ".")
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", version, err)
	}
	return major, nil
}

// compareVersions orders dotted numeric versions component by component.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

// DetectBrowserVersion runs `<browser> --version` and parses the result.
func DetectBrowserVersion(ctx context.Context, browserPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, browserPath, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to run %s --version: %w", browserPath, err)
	}
	return ParseVersion(string(out))
}
