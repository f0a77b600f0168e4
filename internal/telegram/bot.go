package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/pokerjest/animeleech/internal/config"
	"github.com/pokerjest/animeleech/internal/worker"
	"github.com/pokerjest/animeleech/pkg/rss"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

// API is the subset of the Bot API the router uses.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) (*Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	GetFile(ctx context.Context, fileID string) (*File, error)
	DownloadFile(ctx context.Context, filePath string) ([]byte, error)
}

// JobQueue accepts fetch requests (the worker pool).
type JobQueue interface {
	Submit(req worker.Request) (string, error)
	Running() int
}

// JobControl cancels and inspects running jobs (the orchestrator).
type JobControl interface {
	CancelJob(ctx context.Context, jobID string) error
	Lookup(jobID string) (worker.JobInfo, bool)
}

type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]rss.ParsedItem, error)
}

type BotStore interface {
	TotalUsers(ctx context.Context) (int64, error)
	TotalTraffic(ctx context.Context) (int64, int64, error)
	SetThumbnail(ctx context.Context, userID int64, data []byte) error
	LastEpisode(ctx context.Context, userID int64, series string) (int, error)
}

// Bot routes chat updates to the job pipeline.
type Bot struct {
	api      API
	jobs     JobQueue
	control  JobControl
	search   Searcher
	store    BotStore
	cfg      *config.Config
	cache    *tokenCache
	started  time.Time
	sysStats func() (cpuPercent, ramPercent float64, err error)

	wg sync.WaitGroup
}

func NewBot(api API, jobs JobQueue, control JobControl, search Searcher, store BotStore, cfg *config.Config) *Bot {
	return &Bot{
		api:      api,
		jobs:     jobs,
		control:  control,
		search:   search,
		store:    store,
		cfg:      cfg,
		cache:    newTokenCache(4096, 6*time.Hour),
		started:  time.Now(),
		sysStats: hostStats,
	}
}

const welcomeText = "🚀 *Leech Bot is Active*\n\n" +
	"Commands:\n" +
	"/search <anime> - Find episodes\n" +
	"/next <anime> - Search your next episode\n" +
	"/torrent <link> - Direct download\n" +
	"/cancel <job> - Stop a download\n" +
	"/stats - Server health\n" +
	"Send a photo captioned /thumb to set your thumbnail."

// Run long-polls for updates until ctx is done. Each update is handled on
// its own goroutine.
func (b *Bot) Run(ctx context.Context) error {
	var offset int64
	timeout := b.cfg.Telegram.PollTimeout
	log.Info("telegram bot polling started")
	defer b.wg.Wait()

	for {
		updates, err := b.api.GetUpdates(ctx, offset, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warnf("getUpdates failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			b.wg.Add(1)
			go func(u Update) {
				defer b.wg.Done()
				b.handle(ctx, u)
			}(upd)
		}
	}
}

func (b *Bot) handle(ctx context.Context, upd Update) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("update_id", upd.UpdateID).Errorf("panic handling update: %v", r)
		}
	}()

	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		b.handleMessage(ctx, upd.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *Message) {
	if msg.From == nil {
		return
	}
	text := msg.Text
	if len(msg.Photo) > 0 {
		text = msg.Caption
	}
	cmd, args := parseCommand(text)
	if cmd == "" {
		return
	}

	switch cmd {
	case "start", "help":
		b.reply(ctx, msg.Chat.ID, welcomeText)
	case "torrent":
		if len(args) == 0 {
			b.reply(ctx, msg.Chat.ID, "❌ Usage: `/torrent <link>`")
			return
		}
		status, err := b.api.SendMessage(ctx, msg.Chat.ID, "⚡ Initializing...", nil)
		if err != nil {
			log.Warnf("send status message: %v", err)
			return
		}
		b.startJob(ctx, msg.Chat.ID, status.MessageID, msg.From.ID, args[0])
	case "search":
		if len(args) == 0 {
			b.reply(ctx, msg.Chat.ID, "❌ Usage: `/search <anime>`")
			return
		}
		status, err := b.api.SendMessage(ctx, msg.Chat.ID, "🔍 Searching...", nil)
		if err != nil {
			log.Warnf("send status message: %v", err)
			return
		}
		b.runSearch(ctx, msg.Chat.ID, status.MessageID, strings.Join(args, " "))
	case "next":
		if len(args) == 0 {
			b.reply(ctx, msg.Chat.ID, "❌ Usage: `/next <anime>`")
			return
		}
		b.nextEpisode(ctx, msg, strings.Join(args, " "))
	case "cancel":
		if len(args) == 0 {
			b.reply(ctx, msg.Chat.ID, "❌ Usage: `/cancel <job>`")
			return
		}
		b.reply(ctx, msg.Chat.ID, b.cancel(ctx, msg.From.ID, args[0]))
	case "stats":
		b.stats(ctx, msg)
	case "thumb":
		b.saveThumbnail(ctx, msg)
	}
}

// parseCommand splits "/cmd@Bot a b" into ("cmd", ["a","b"]).
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), fields[1:]
}

func (b *Bot) handleCallback(ctx context.Context, cq *CallbackQuery) {
	kind, value, _ := strings.Cut(cq.Data, ":")
	answer := ""
	defer func() {
		if err := b.api.AnswerCallbackQuery(ctx, cq.ID, answer); err != nil {
			log.Debugf("answer callback: %v", err)
		}
	}()

	if cq.Message == nil {
		return
	}
	chatID, msgID := cq.Message.Chat.ID, cq.Message.MessageID

	switch kind {
	case "get":
		link, ok := b.cache.Get(value)
		if !ok {
			b.edit(ctx, chatID, msgID, "⌛ This result expired, search again.")
			return
		}
		b.edit(ctx, chatID, msgID, "⚡ Starting download...")
		b.startJob(ctx, chatID, msgID, cq.From.ID, link)
	case "next":
		query, ok := b.cache.Get(value)
		if !ok {
			b.edit(ctx, chatID, msgID, "⌛ This button expired.")
			return
		}
		b.edit(ctx, chatID, msgID, "🔍 Searching Next Ep: "+worker.EscapeMarkdown(query))
		b.runSearch(ctx, chatID, msgID, query)
	case "cancel":
		answer = b.cancel(ctx, cq.From.ID, value)
	}
}

func (b *Bot) startJob(ctx context.Context, chatID, messageID, userID int64, source string) {
	sink := NewMessageSink(b.api, chatID, messageID, b.keyboard)
	_, err := b.jobs.Submit(worker.Request{Source: source, UserID: userID, Sink: sink})
	if err != nil {
		log.WithField("user_id", userID).Warnf("job not accepted: %v", err)
		b.edit(ctx, chatID, messageID, "♻️ Restarting for maintenance, try again in a minute.")
	}
}

func (b *Bot) runSearch(ctx context.Context, chatID, messageID int64, query string) {
	items, err := b.search.Search(ctx, query, b.cfg.Search.Limit)
	if err != nil {
		log.WithField("query", query).Warnf("search failed: %v", err)
	}
	if len(items) == 0 {
		b.edit(ctx, chatID, messageID, "❌ No results found.")
		return
	}

	markup := &InlineKeyboardMarkup{}
	for _, item := range items {
		label := "🎬 " + truncate(item.Title, 40)
		if item.Size != "" {
			label += " · " + item.Size
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, []InlineKeyboardButton{{
			Text:         label,
			CallbackData: "get:" + b.cache.Put(item.Link),
		}})
	}
	text := "✅ Results for: " + worker.EscapeMarkdown(query)
	if err := b.api.EditMessageText(ctx, chatID, messageID, text, markup); err != nil {
		log.Debugf("edit search results: %v", err)
	}
}

// nextEpisode searches the episode after the last one tracked for series.
func (b *Bot) nextEpisode(ctx context.Context, msg *Message, series string) {
	last, err := b.store.LastEpisode(ctx, msg.From.ID, series)
	if err != nil {
		log.WithField("series", series).Warnf("lookup history: %v", err)
	}
	if last <= 0 {
		b.reply(ctx, msg.Chat.ID, "📭 Nothing tracked for "+worker.EscapeMarkdown(series)+".")
		return
	}
	query := fmt.Sprintf("%s %d", series, last+1)
	status, err := b.api.SendMessage(ctx, msg.Chat.ID, "🔍 Searching Next Ep: "+worker.EscapeMarkdown(query), nil)
	if err != nil {
		log.Warnf("send status message: %v", err)
		return
	}
	b.runSearch(ctx, msg.Chat.ID, status.MessageID, query)
}

func (b *Bot) cancel(ctx context.Context, userID int64, jobID string) string {
	info, ok := b.control.Lookup(jobID)
	if !ok {
		return "Job not found or already finished."
	}
	if info.UserID != userID && !b.cfg.IsAdmin(userID) {
		return "⛔ You can only cancel your own downloads."
	}
	if err := b.control.CancelJob(ctx, jobID); err != nil {
		log.WithField("job_id", jobID).Warnf("cancel failed: %v", err)
		return "❌ Cancel failed."
	}
	return "🛑 Cancelling..."
}

func (b *Bot) stats(ctx context.Context, msg *Message) {
	if !b.cfg.IsAdmin(msg.From.ID) {
		b.reply(ctx, msg.Chat.ID, "⛔ Admins only.")
		return
	}

	users, err := b.store.TotalUsers(ctx)
	if err != nil {
		log.Warnf("count users: %v", err)
	}
	down, up, err := b.store.TotalTraffic(ctx)
	if err != nil {
		log.Warnf("sum traffic: %v", err)
	}

	text := fmt.Sprintf("📊 *System Status*\n*Uptime*: `%s`\n", uptime(time.Since(b.started)))
	if cpuP, ramP, err := b.sysStats(); err == nil {
		text += fmt.Sprintf("*CPU*: `%.1f%%` | *RAM*: `%.1f%%`\n", cpuP, ramP)
	}
	text += fmt.Sprintf("*Active jobs*: `%d`\n", b.jobs.Running())
	text += fmt.Sprintf("\n🤖 *Bot Usage*\n*Users*: `%d`\n*Traffic*: ⬇️ `%s` | ⬆️ `%s`",
		users, humanize.IBytes(uint64(down)), humanize.IBytes(uint64(up)))
	b.reply(ctx, msg.Chat.ID, text)
}

func (b *Bot) saveThumbnail(ctx context.Context, msg *Message) {
	if len(msg.Photo) == 0 {
		b.reply(ctx, msg.Chat.ID, "📷 Send a photo with the caption /thumb.")
		return
	}
	photo := pickThumbnail(msg.Photo)

	f, err := b.api.GetFile(ctx, photo.FileID)
	if err != nil {
		log.Warnf("getFile: %v", err)
		b.reply(ctx, msg.Chat.ID, "❌ Could not fetch the photo.")
		return
	}
	data, err := b.api.DownloadFile(ctx, f.FilePath)
	if err != nil {
		log.Warnf("download photo: %v", err)
		b.reply(ctx, msg.Chat.ID, "❌ Could not fetch the photo.")
		return
	}
	if err := b.store.SetThumbnail(ctx, msg.From.ID, data); err != nil {
		log.Warnf("save thumbnail: %v", err)
		b.reply(ctx, msg.Chat.ID, "❌ Could not save the thumbnail.")
		return
	}
	b.reply(ctx, msg.Chat.ID, "✅ Thumbnail saved.")
}

// pickThumbnail takes the largest size that still fits Telegram's 320px
// thumbnail limit, else the smallest available.
func pickThumbnail(sizes []PhotoSize) PhotoSize {
	best := -1
	for i, s := range sizes {
		if s.Width <= 320 && s.Height <= 320 && (best < 0 || s.Width > sizes[best].Width) {
			best = i
		}
	}
	if best >= 0 {
		return sizes[best]
	}
	return sizes[0]
}

func (b *Bot) keyboard(actions []worker.Action) *InlineKeyboardMarkup {
	markup := &InlineKeyboardMarkup{}
	for _, a := range actions {
		var data string
		switch a.Kind {
		case worker.ActionCancel:
			data = "cancel:" + a.Value
		case worker.ActionNext:
			data = "next:" + b.cache.Put(a.Value)
		default:
			continue
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, []InlineKeyboardButton{{Text: a.Label, CallbackData: data}})
	}
	if len(markup.InlineKeyboard) == 0 {
		return nil
	}
	return markup
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.api.SendMessage(ctx, chatID, text, nil); err != nil {
		log.Debugf("send message: %v", err)
	}
}

func (b *Bot) edit(ctx context.Context, chatID, messageID int64, text string) {
	if err := b.api.EditMessageText(ctx, chatID, messageID, text, nil); err != nil && !isNotModified(err) {
		log.Debugf("edit message: %v", err)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

func uptime(d time.Duration) string {
	s := int64(d.Seconds())
	days, s := s/86400, s%86400
	hours, s := s/3600, s%3600
	minutes, s := s/60, s%60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, s)
}

func hostStats() (float64, float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	var c float64
	if len(percents) > 0 {
		c = percents[0]
	}
	return c, vm.UsedPercent, nil
}
