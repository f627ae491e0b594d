package dependency

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

var forbiddenPrefixes = []string{"/etc", "/sys", "/proc", "/dev"}

// ValidateCommandRequest performs security checks before execution:
//  1. command whitelist (if configured)
//  2. argument safety (no path traversal, no system directories)
//  3. working directory inside the scratch root
func ValidateCommandRequest(req CommandRequest, config ExecutorConfig) error {
	if len(config.AllowedCommands) > 0 && !slices.Contains(config.AllowedCommands, req.Command) {
		return fmt.Errorf("command %s is not in whitelist (allowed: %v)", req.Command, config.AllowedCommands)
	}

	for _, arg := range req.Args {
		if strings.Contains(arg, "..") {
			return fmt.Errorf("argument contains dangerous characters '..' (path traversal attempt): %s", arg)
		}
		for _, prefix := range forbiddenPrefixes {
			if strings.HasPrefix(arg, prefix) {
				return fmt.Errorf("argument attempts to access forbidden system directory %s: %s", prefix, arg)
			}
		}
	}

	if req.WorkingDir != "" && config.ScratchRoot != "" {
		root, err := filepath.Abs(config.ScratchRoot)
		if err != nil {
			return fmt.Errorf("failed to resolve scratch root: %w", err)
		}
		dir, err := filepath.Abs(req.WorkingDir)
		if err != nil {
			return fmt.Errorf("invalid working directory: %w", err)
		}
		if dir != root && !strings.HasPrefix(dir, root+string(filepath.Separator)) {
			return fmt.Errorf("invalid working directory: %s is outside scratch root %s", req.WorkingDir, config.ScratchRoot)
		}
	}
	return nil
}
