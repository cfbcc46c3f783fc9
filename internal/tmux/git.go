package tmux

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

type GitInfo struct {
	RepoRoot string
	Branch   string
	Remote   string
}

// ResolveGitInfo gets git metadata for a directory. It returns nil outside a
// repository or when git is unavailable.
func ResolveGitInfo(ctx context.Context, cwd string) *GitInfo {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	root, err := gitOutput(ctx, cwd, "rev-parse", "--show-toplevel")
	if err != nil || root == "" {
		return nil
	}
	info := &GitInfo{RepoRoot: root}

	if branch, err := gitOutput(ctx, root, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		info.Branch = branch
	}
	if remote, err := gitOutput(ctx, root, "remote", "get-url", "origin"); err == nil {
		info.Remote = remote
	}
	return info
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
