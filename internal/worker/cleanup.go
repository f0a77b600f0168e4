package worker

import (
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// CleanupGuard collects the paths a job creates and removes all of them when
// the job ends. Running it more than once is harmless.
type CleanupGuard struct {
	fs    afero.Fs
	mu    sync.Mutex
	paths []string
	seen  map[string]bool
}

func NewCleanupGuard(fs afero.Fs) *CleanupGuard {
	return &CleanupGuard{fs: fs, seen: make(map[string]bool)}
}

func (g *CleanupGuard) Track(paths ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range paths {
		if p == "" || g.seen[p] {
			continue
		}
		g.seen[p] = true
		g.paths = append(g.paths, p)
	}
}

func (g *CleanupGuard) Paths() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.paths...)
}

// Run removes every tracked path and returns how many removals failed.
func (g *CleanupGuard) Run() int {
	return removePaths(g.fs, g.Paths()...)
}

// removePaths deletes each path recursively. Missing paths are not errors;
// failures are logged and skipped.
func removePaths(fs afero.Fs, paths ...string) int {
	failed := 0
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := fs.RemoveAll(p); err != nil {
			failed++
			log.WithField("path", p).Warnf("cleanup failed: %v", err)
		}
	}
	return failed
}

// jobPath joins the engine-reported job name onto root. It returns "" for
// names that would escape root or point at root itself.
func jobPath(root, name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return ""
	}
	return filepath.Join(root, name)
}
