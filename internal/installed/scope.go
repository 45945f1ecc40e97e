package installed

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Scope selects which registry a deployment records into.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeMachine
	ScopeUser
)

// RootEnv overrides the registry directory for every scope.
const RootEnv = "UPACK_REGISTRY_ROOT"

func (s Scope) String() string {
	switch s {
	case ScopeNone:
		return "none"
	case ScopeMachine:
		return "machine"
	case ScopeUser:
		return "user"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// ParseScope accepts "none", "machine" or "user", case-insensitively.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return ScopeNone, nil
	case "machine":
		return ScopeMachine, nil
	case "user":
		return ScopeUser, nil
	}
	return ScopeNone, fmt.Errorf("unknown registry scope %q", s)
}

// DefaultRoot returns the directory holding the registry for scope.
func DefaultRoot(scope Scope) (string, error) {
	if root := os.Getenv(RootEnv); root != "" {
		return root, nil
	}
	switch scope {
	case ScopeMachine:
		if runtime.GOOS == "windows" {
			base := os.Getenv("ProgramData")
			if base == "" {
				base = `C:\ProgramData`
			}
			return filepath.Join(base, "upack"), nil
		}
		return "/var/lib/upack", nil
	case ScopeUser:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locating user registry: %w", err)
		}
		return filepath.Join(home, ".upack"), nil
	default:
		return "", fmt.Errorf("no registry for scope %s", scope)
	}
}
