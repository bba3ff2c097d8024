package util

import "os/exec"

// ResolveCommandPath returns the path to an external helper binary.
// If customPath is set, it must resolve; otherwise name is searched in PATH.
// Returns an empty string if the binary is not found.
func ResolveCommandPath(customPath, name string) string {
	if customPath != "" {
		if _, err := exec.LookPath(customPath); err == nil {
			return customPath
		}
		return ""
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}
