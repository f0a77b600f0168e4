package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pokerjest/animeleech/internal/parser"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Discover walks root and returns the media files under it in ascending
// lexical order. A root that is itself a media file yields a single entry.
// Only the extension is checked. Walk errors are logged and skipped, so the
// result is empty rather than an error when nothing usable is found.
func Discover(fsys afero.Fs, root string, exts []string) []string {
	info, err := fsys.Stat(root)
	if err != nil {
		return []string{}
	}
	if !info.IsDir() {
		if parser.IsMediaFile(root, exts) {
			return []string{root}
		}
		return []string{}
	}

	seen := make(map[string]struct{})
	files := []string{}
	_ = afero.Walk(fsys, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			log.WithField("path", path).Warnf("Scanner: Error accessing path: %v", err)
			return nil
		}
		if fi.IsDir() {
			return nil
		}
		if !parser.IsMediaFile(path, exts) {
			return nil
		}
		if _, dup := seen[path]; dup {
			return nil
		}
		seen[path] = struct{}{}
		files = append(files, path)
		return nil
	})

	sort.Strings(files)
	return files
}

// FindSidecar looks for a subtitle next to videoPath with the same base name,
// trying parser.SubtitleExtensions in order. It returns "" when none exists.
func FindSidecar(fsys afero.Fs, videoPath string) string {
	base := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
	for _, ext := range parser.SubtitleExtensions {
		candidate := base + ext
		if ok, _ := afero.Exists(fsys, candidate); ok {
			return candidate
		}
	}
	return ""
}
