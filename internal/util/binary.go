// Package util provides shared helpers with no better home.
package util

import (
	"fmt"
	"os"
	"os/exec"
)

// FindBinary locates an external executable. An explicit path in the
// environment variable wins, then a sibling in the working directory,
// then the PATH. Candidates that are missing, directories, or not
// executable are passed over rather than reported as errors.
func FindBinary(name string, envVar string) (string, error) {
	var candidates []string
	if envVar != "" {
		if fromEnv := os.Getenv(envVar); fromEnv != "" {
			candidates = append(candidates, fromEnv)
		}
	}
	candidates = append(candidates, "./"+name)

	for _, candidate := range candidates {
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	// LookPath verifies executability itself.
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("binary %s not found", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
