package worker

import (
	"fmt"
	"strings"

	"github.com/pokerjest/animeleech/internal/downloader"
)

// Throttle lets a progress update through only when it lands in a different
// step-sized bucket than the last one let through. The first bucket is 0, so
// a 1..100 stream with step 5 passes 20 updates.
type Throttle struct {
	step float64
	last int
}

func NewThrottle(step float64) *Throttle {
	return &Throttle{step: step}
}

func (t *Throttle) Allow(progress float64) bool {
	if t.step <= 0 {
		return true
	}
	bucket := int(progress / t.step)
	if bucket == t.last {
		return false
	}
	t.last = bucket
	return true
}

// ProgressBar renders p (0-100) as length glyphs.
func ProgressBar(p float64, length int) string {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	filled := int(float64(length) * p / 100)
	return strings.Repeat("▰", filled) + strings.Repeat("▱", length-filled)
}

// ProgressText is the in-flight status message for one poll.
func ProgressText(st *downloader.Status) string {
	name := st.Name
	if name == "" {
		name = "fetching metadata"
	}
	return fmt.Sprintf("📥 *Downloading...*\n📂 `%s`\n%s *%.1f%%*\n🚀 `%s` | ⏳ `%s`",
		inlineCode(name), ProgressBar(st.Progress, 10), st.Progress, st.Rate, st.ETA)
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// EscapeMarkdown makes s safe to place outside an entity in a legacy
// Markdown message.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// inlineCode keeps s inside a `code` entity; legacy Markdown has no escape
// there, so backticks are swapped out.
func inlineCode(s string) string {
	return strings.ReplaceAll(s, "`", "'")
}

// Caption is attached to every uploaded file.
func Caption(fileName string) string {
	return fmt.Sprintf("✨ *Upload Complete*\n📂 `%s`", inlineCode(fileName))
}

const (
	msgSubmitFailed = "❌ Failed to add torrent."
	msgCancelled    = "🛑 Download cancelled."
	msgFailed       = "❌ Download failed."
	msgMissing      = "❌ Error: File not found."
	msgEmpty        = "⚠️ No video files found."
	msgCritical     = "⚠️ Critical error."
	msgPreparing    = "✅ Download complete. Preparing files..."
	msgRestart      = "♻️ Maintenance restart after this job, back in a moment."
	msgShutdown     = "♻️ Bot is restarting for maintenance. Please send the link again in a minute."
	msgFetching     = "⏳ *Fetching metadata...*"
)

func cancelActions(jobID string) []Action {
	return []Action{{Label: "🛑 Cancel", Kind: ActionCancel, Value: jobID}}
}

func summaryText(res Result) string {
	text := fmt.Sprintf("✅ *Done!* Uploaded %d/%d.", res.Uploaded, res.Total)
	if res.Series != "" && res.Episode > 0 {
		text += fmt.Sprintf("\n\n📺 *Tracked*: %s (Ep %d)", EscapeMarkdown(res.Series), res.Episode)
	}
	if res.Restart {
		text += "\n\n" + msgRestart
	}
	return text
}

func summaryActions(res Result) []Action {
	if res.Series == "" || res.Episode <= 0 {
		return nil
	}
	next := res.Episode + 1
	return []Action{{
		Label: fmt.Sprintf("⏭️ Ep %d", next),
		Kind:  ActionNext,
		Value: fmt.Sprintf("%s %d", res.Series, next),
	}}
}
