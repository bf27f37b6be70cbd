package provision

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/justjake/querybench/pkg/executor"
)

// PortPlan assigns each strategy a fixed host port: Base + the strategy's
// index in executor.KnownStrategies + Offset.
type PortPlan struct {
	Base   int
	Offset int
}

// NewPortPlan returns a plan rooted at base. When worktreeOffset is set and
// the working directory is inside a linked git worktree, ports are shifted so
// that several checkouts can benchmark at the same time.
func NewPortPlan(base int, worktreeOffset bool) PortPlan {
	plan := PortPlan{Base: base}
	if worktreeOffset {
		if root, err := WorktreeRoot(); err == nil {
			plan.Offset = WorktreePortOffset(root)
		}
	}
	return plan
}

// PortFor returns the host port for s.
func (p PortPlan) PortFor(s executor.Strategy) (int, error) {
	idx := s.Index()
	if idx < 0 {
		return 0, fmt.Errorf("no port for unknown strategy %q", s)
	}
	return p.Base + p.Offset + idx, nil
}

// isWorktree reports whether path is a linked worktree rather than the main
// checkout. In a worktree .git is a file ("gitdir: ...").
func isWorktree(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// WorktreePortOffset returns 0 for the main checkout and a stable value in
// 1..99 for a linked worktree, derived from its path.
func WorktreePortOffset(worktreePath string) int {
	absPath, err := filepath.Abs(worktreePath)
	if err != nil || !isWorktree(absPath) {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(absPath))
	return 1 + int(h.Sum32()%99)
}

// WorktreeRoot walks up from the working directory to the nearest .git.
func WorktreeRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}
