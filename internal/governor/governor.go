package governor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pokerjest/animeleech/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Report describes what one sweep did.
type Report struct {
	RSS      uint64
	Freed    bool     // above memory threshold, returned memory to the OS
	Critical bool     // above critical threshold
	Killed   []string // "name(pid)"
	Removed  []string // stale paths under root
	Degraded bool     // process introspection unavailable this tick
}

// Governor is the periodic memory and disk janitor.
type Governor struct {
	cfg       config.GovernorConfig
	root      string
	fs        afero.Fs
	inspector ProcessInspector
	now       func() time.Time
}

func New(cfg config.GovernorConfig, root string, fs afero.Fs, inspector ProcessInspector) *Governor {
	return &Governor{cfg: cfg, root: root, fs: fs, inspector: inspector, now: time.Now}
}

// Run sweeps immediately and then on every tick until ctx is done.
func (g *Governor) Run(ctx context.Context) error {
	interval := g.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval).Info("resource governor started")
	g.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("resource governor stopped")
			return nil
		case <-ticker.C:
			g.Sweep(ctx)
		}
	}
}

// Sweep runs one janitor pass.
func (g *Governor) Sweep(ctx context.Context) Report {
	var rep Report
	runtime.GC()

	if g.inspector == nil {
		rep.Degraded = true
	} else {
		g.checkMemory(&rep)
	}

	if ctx.Err() == nil {
		rep.Removed = g.removeStale()
	}

	if len(rep.Killed) > 0 || len(rep.Removed) > 0 || rep.Freed {
		log.WithFields(log.Fields{
			"rss":     humanize.IBytes(rep.RSS),
			"killed":  len(rep.Killed),
			"removed": len(rep.Removed),
		}).Warn("governor sweep reclaimed resources")
	}
	return rep
}

func (g *Governor) checkMemory(rep *Report) {
	rss, err := g.inspector.SelfRSS()
	if err != nil {
		log.Debugf("governor: memory introspection unavailable: %v", err)
		rep.Degraded = true
		return
	}
	rep.RSS = rss

	if g.cfg.MemoryThresholdMB > 0 && rss > g.cfg.MemoryThresholdMB<<20 {
		log.Warnf("⚠️ High RAM (%s), forcing cleanup", humanize.IBytes(rss))
		debug.FreeOSMemory()
		rep.Freed = true
	}
	rep.Critical = g.cfg.CriticalThresholdMB > 0 && rss > g.cfg.CriticalThresholdMB<<20

	procs, err := g.inspector.Descendants()
	if err != nil {
		log.Debugf("governor: process listing unavailable: %v", err)
		rep.Degraded = true
		return
	}

	now := g.now()
	for _, p := range procs {
		if !g.isHelper(p.Name) {
			continue
		}
		tooOld := g.cfg.MaxHelperAge > 0 && !p.Created.IsZero() && now.Sub(p.Created) > g.cfg.MaxHelperAge
		if !rep.Critical && !tooOld {
			continue
		}
		if err := g.inspector.Kill(p.PID); err != nil {
			log.WithField("pid", p.PID).Debugf("kill %s: %v", p.Name, err)
			continue
		}
		reason := "zombie"
		if rep.Critical {
			reason = "critical memory"
		}
		log.WithFields(log.Fields{"pid": p.PID, "name": p.Name}).Warnf("killed helper process (%s)", reason)
		rep.Killed = append(rep.Killed, fmt.Sprintf("%s(%d)", p.Name, p.PID))
	}
}

func (g *Governor) isHelper(name string) bool {
	name = strings.ToLower(name)
	for _, h := range g.cfg.HelperNames {
		if h != "" && strings.HasPrefix(name, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

// removeStale deletes top-level entries under root whose newest
// modification time is older than StaleTTL. A directory is as fresh as the
// newest file inside it, so an active download is never stale.
func (g *Governor) removeStale() []string {
	if g.cfg.StaleTTL <= 0 || g.root == "" {
		return nil
	}
	entries, err := afero.ReadDir(g.fs, g.root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Debugf("governor: read %s: %v", g.root, err)
		}
		return nil
	}

	cutoff := g.now().Add(-g.cfg.StaleTTL)
	var removed []string
	for _, e := range entries {
		path := filepath.Join(g.root, e.Name())
		if g.newestModTime(path, e).After(cutoff) {
			continue
		}
		if err := g.fs.RemoveAll(path); err != nil {
			log.WithField("path", path).Debugf("governor: remove stale: %v", err)
			continue
		}
		log.WithField("path", path).Warn("♻️ auto-cleaned stale download")
		removed = append(removed, path)
	}
	return removed
}

func (g *Governor) newestModTime(path string, info os.FileInfo) time.Time {
	newest := info.ModTime()
	if !info.IsDir() {
		return newest
	}
	_ = afero.Walk(g.fs, path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
		return nil
	})
	return newest
}
