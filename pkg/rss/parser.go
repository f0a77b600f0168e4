package rss

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type RSS struct {
	Channel Channel `xml:"channel"`
}

type Channel struct {
	Title string `xml:"title"`
	Items []Item `xml:"item"`
}

type Item struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"` // nyaa: .torrent url; mikan: page url
	Description string    `xml:"description"`
	PubDate     string    `xml:"pubDate"`
	Enclosure   Enclosure `xml:"enclosure"`
	InfoHash    string    `xml:"infoHash"` // nyaa:infoHash
	Size        string    `xml:"size"`     // nyaa:size, already human readable
	Seeders     int       `xml:"seeders"`
}

type Enclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length int64  `xml:"length,attr"`
}

type ParsedItem struct {
	Title   string
	Link    string // Magnet or Torrent URL
	Size    string
	Seeders int
	Date    time.Time
}

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Searcher queries a torrent RSS feed.
type Searcher struct {
	client  *resty.Client
	feedURL string // contains one %s for the escaped query
}

func NewSearcher(feedURL string) *Searcher {
	client := resty.New().
		SetTimeout(15*time.Second).
		SetHeader("User-Agent", userAgent)
	return &Searcher{client: client, feedURL: feedURL}
}

// Search returns at most limit items for query, in feed order.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]ParsedItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	target := s.feedURL
	if strings.Contains(target, "%s") {
		target = fmt.Sprintf(target, url.QueryEscape(query))
	}

	resp, err := s.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(target)
	if err != nil {
		return nil, err
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("bad status: %s", resp.Status())
	}

	items, err := Parse(body)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Parse decodes an RSS document. Items without any usable link are skipped.
func Parse(r io.Reader) ([]ParsedItem, error) {
	var rss RSS
	if err := xml.NewDecoder(r).Decode(&rss); err != nil {
		return nil, err
	}

	result := make([]ParsedItem, 0, len(rss.Channel.Items))
	for _, item := range rss.Channel.Items {
		link := itemLink(item)
		if link == "" {
			continue
		}

		// RFC1123Z usually
		t, err := time.Parse(time.RFC1123Z, item.PubDate)
		if err != nil {
			t, _ = time.Parse(time.RFC1123, item.PubDate)
		}

		result = append(result, ParsedItem{
			Title:   strings.TrimSpace(item.Title),
			Link:    link,
			Size:    item.Size,
			Seeders: item.Seeders,
			Date:    t,
		})
	}
	return result, nil
}

// itemLink prefers a magnet built from the info hash, then the enclosure,
// then <link>.
func itemLink(item Item) string {
	if h := strings.TrimSpace(item.InfoHash); h != "" {
		return "magnet:?xt=urn:btih:" + h + "&dn=" + url.QueryEscape(strings.TrimSpace(item.Title))
	}
	if item.Enclosure.URL != "" {
		return item.Enclosure.URL
	}
	return strings.TrimSpace(item.Link)
}
