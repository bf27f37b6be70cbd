package suite

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitInfo is the state of the checkout running the benchmark.
type GitInfo struct {
	SHA      string `json:"sha"`
	ShortSHA string `json:"short_sha"`
	Branch   string `json:"branch"`
	Dirty    bool   `json:"dirty"`
	Diff     string `json:"-"`
	Status   string `json:"-"`
}

// CaptureGit reads the HEAD commit, branch and working tree state of dir.
func CaptureGit(dir string) (*GitInfo, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	sha, err := gitCommand(absDir, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD SHA: %w", err)
	}
	info := &GitInfo{SHA: sha, ShortSHA: sha}
	if len(sha) >= 7 {
		info.ShortSHA = sha[:7]
	}

	// Detached HEAD has no branch name.
	if branch, err := gitCommand(absDir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		info.Branch = branch
	} else {
		info.Branch = "HEAD"
	}

	if status, err := gitCommand(absDir, "status", "--short"); err == nil {
		info.Status = status
		info.Dirty = strings.TrimSpace(status) != ""
	}
	info.Diff, _ = gitCommand(absDir, "diff")
	return info, nil
}

func (g *GitInfo) String() string {
	dirty := ""
	if g.Dirty {
		dirty = " (dirty)"
	}
	return fmt.Sprintf("%s@%s%s", g.Branch, g.ShortSHA, dirty)
}

// writeFiles stores the git state next to the reports. git-diff and
// git-status are only written for a dirty checkout.
func (g *GitInfo) writeFiles(dir string) error {
	files := map[string]string{
		"git-sha":    g.SHA,
		"git-branch": g.Branch,
	}
	if g.Dirty {
		files["git-diff"] = g.Diff
		files["git-status"] = g.Status
	}
	for name, content := range files {
		if err := writeFile(filepath.Join(dir, name), content); err != nil {
			return err
		}
	}
	return nil
}

func gitCommand(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0644)
}
