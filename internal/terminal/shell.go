package terminal

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

const (
	defaultWindowsShell = "powershell.exe"
	defaultPosixShell   = "/bin/bash"
)

// candidateShells are probed by AvailableShells, in order of preference.
var candidateShells = map[string][]string{
	"windows": {"powershell", "pwsh", "cmd"},
	"default": {"bash", "zsh", "fish", "sh", "ksh"},
}

// ResolveShell returns the interactive shell for the host platform. It never
// fails: blank environment values fall back to a built-in default.
func ResolveShell() (string, []string) {
	return resolveShellFor(runtime.GOOS, os.Getenv)
}

func resolveShellFor(goos string, getenv func(string) string) (string, []string) {
	if goos == "windows" {
		if shell := strings.TrimSpace(getenv("COMSPEC")); shell != "" {
			return shell, nil
		}
		return defaultWindowsShell, nil
	}

	if shell := strings.TrimSpace(getenv("SHELL")); shell != "" {
		return shell, nil
	}
	return defaultPosixShell, nil
}

// ResolveCwd returns requested when it names an existing directory, and the
// process working directory otherwise.
func ResolveCwd(requested string) string {
	fallback, err := os.Getwd()
	if err != nil || fallback == "" {
		fallback = "."
	}

	trimmed := strings.TrimSpace(requested)
	if trimmed == "" {
		return fallback
	}

	info, err := os.Stat(trimmed)
	if err != nil || !info.IsDir() {
		return fallback
	}
	return trimmed
}

// AvailableShells returns the full paths of known shells found on PATH.
func AvailableShells() []string {
	candidates, ok := candidateShells[runtime.GOOS]
	if !ok {
		candidates = candidateShells["default"]
	}

	var shells []string
	seen := make(map[string]bool)
	for _, name := range candidates {
		path, err := exec.LookPath(name)
		if err != nil || seen[path] {
			continue
		}
		seen[path] = true
		shells = append(shells, path)
	}
	return shells
}
