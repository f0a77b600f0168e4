package parser

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMediaExtensions 默认允许上传的视频容器
var DefaultMediaExtensions = []string{".mkv", ".mp4", ".avi", ".webm"}

// SubtitleExtensions is the ordered sidecar lookup list; the first match wins.
var SubtitleExtensions = []string{".srt", ".vtt", ".ass"}

// IsMediaFile checks the file extension against the allow-list (case-insensitive).
// An empty allow-list means DefaultMediaExtensions.
func IsMediaFile(path string, exts []string) bool {
	if len(exts) == 0 {
		exts = DefaultMediaExtensions
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if ext == e {
			return true
		}
	}
	return false
}

var (
	leadingTagsRegex  = regexp.MustCompile(`^(\s*\[[^\]]*\]\s*)+`)
	trailingTagsRegex = regexp.MustCompile(`(\s*(\[[^\]]*\]|\([^)]*\)))+\s*$`)
	sxeRegex          = regexp.MustCompile(`(?i)\bS(\d+)\s*E(\d+)\b`)
	// the prefix is lazy so the trailing number run is taken whole;
	// the number must close the string.
	trailingEpRegex = regexp.MustCompile(`^(.+?)(?:\s*-\s*|\s+[Ee][Pp]?\.?\s*|\s+|\.)(\d{1,4})(?:[vV]\d{1,2})?(?:\s+END)?$`)
)

// ParseEpisode derives a series name and episode number from a file name.
//
// Release-group tags ("[Group] ") and trailing metadata ("[1080p]", "(BD)")
// are removed first. An explicit SxxEyy token wins; otherwise the longest
// prefix before a trailing <separator><number> token is the series and the
// number is the episode. Numbers that look like years, resolutions or codecs
// are rejected.
func ParseEpisode(fileName string) (string, int, bool) {
	name := stripExtension(filepath.Base(fileName))
	name = strings.ReplaceAll(name, "_", " ")
	name = leadingTagsRegex.ReplaceAllString(name, "")
	name = strings.TrimSpace(trailingTagsRegex.ReplaceAllString(name, ""))
	if name == "" {
		return "", 0, false
	}

	// Pattern A: "S01E02" / "S1E2"
	if loc := sxeRegex.FindStringSubmatchIndex(name); loc != nil {
		ep, _ := strconv.Atoi(name[loc[4]:loc[5]])
		series := cleanSeries(name[:loc[0]])
		if series != "" && ep > 0 {
			return series, ep, true
		}
	}

	m := trailingEpRegex.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	ep, err := strconv.Atoi(m[2])
	if err != nil || !isLikelyEpisodeNumber(ep) {
		return "", 0, false
	}
	series := cleanSeries(m[1])
	if series == "" {
		return "", 0, false
	}
	return series, ep, true
}

func stripExtension(name string) string {
	ext := filepath.Ext(name)
	if len(ext) < 2 || len(ext) > 5 || strings.ContainsAny(ext, " -") {
		return name
	}
	if _, err := strconv.Atoi(ext[1:]); err == nil {
		// "Title.05" has no extension
		return name
	}
	return strings.TrimSuffix(name, ext)
}

func cleanSeries(raw string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(raw), " -._"))
}

func isLikelyEpisodeNumber(num int) bool {
	if num == 0 {
		return false
	}
	// Filter out common resolutions if they appear as standalone numbers (rare but possible)
	if num == 480 || num == 720 || num == 1080 || num == 2160 {
		return false
	}
	// Filter out years
	if num > 1900 && num < 2100 {
		return false
	}
	// Filter out video codecs
	if num == 264 || num == 265 {
		return false
	}
	return true
}
