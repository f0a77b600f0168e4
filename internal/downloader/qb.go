package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// QBittorrentClient drives qBittorrent's WebUI API. Jobs are identified by a
// unique tag because torrents/add does not return the info hash.
type QBittorrentClient struct {
	client   *resty.Client
	baseURL  string
	username string
	password string
	savePath string

	mu      sync.Mutex
	cookies []*http.Cookie // Manually store cookies
	seen    map[string]bool
}

type qbTorrent struct {
	Hash      string  `json:"hash"`
	Name      string  `json:"name"`
	Progress  float64 `json:"progress"` // 0-1
	DLSpeed   int64   `json:"dlspeed"`
	ETA       int64   `json:"eta"`
	State     string  `json:"state"`
	Size      int64   `json:"size"`
	Completed int64   `json:"completed"`
}

// qBittorrent reports this ETA when it has no estimate.
const qbInfiniteETA = 8640000

var errQBForbidden = errors.New("qbittorrent: forbidden")

func NewQBittorrentClient(baseURL, username, password, savePath string) *QBittorrentClient {
	// 确保 baseURL 不以 / 结尾
	baseURL = strings.TrimSuffix(baseURL, "/")

	client := resty.New().
		SetTimeout(10*time.Second).
		SetBaseURL(baseURL).
		SetHeader("Referer", baseURL).
		SetHeader("Origin", baseURL)

	client.SetRetryCount(3).SetRetryWaitTime(2 * time.Second)

	return &QBittorrentClient{
		client:   client,
		baseURL:  baseURL,
		username: username,
		password: password,
		savePath: savePath,
		seen:     make(map[string]bool),
	}
}

func (q *QBittorrentClient) Login(ctx context.Context) error {
	resp, err := q.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": q.username,
			"password": q.password,
		}).
		Post("/api/v2/auth/login")
	if err != nil {
		return err
	}

	// qBit 登录失败在 body 返回 "Fails."
	if resp.String() == "Fails." {
		return errors.New("login failed: invalid credentials")
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("login failed, status: %s", resp.Status())
	}

	q.mu.Lock()
	q.cookies = resp.Cookies()
	q.mu.Unlock()
	return nil
}

// request attaches the session cookies, logging in first when there are none.
func (q *QBittorrentClient) request(ctx context.Context) (*resty.Request, error) {
	q.mu.Lock()
	cookies := q.cookies
	q.mu.Unlock()

	if len(cookies) == 0 && q.username != "" {
		if err := q.Login(ctx); err != nil {
			return nil, err
		}
		q.mu.Lock()
		cookies = q.cookies
		q.mu.Unlock()
	}

	req := q.client.R().SetContext(ctx).SetHeader("Referer", q.baseURL+"/")
	if len(cookies) > 0 {
		req.SetCookies(cookies)
	}
	return req, nil
}

// do runs fn once, and once more after a fresh login if the session expired.
func (q *QBittorrentClient) do(ctx context.Context, fn func(req *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		req, err := q.request(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := fn(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == http.StatusForbidden && q.username != "" {
			log.Debug("qBittorrent session expired, logging in again")
			q.mu.Lock()
			q.cookies = nil
			q.mu.Unlock()
			continue
		}
		return resp, nil
	}
	return nil, errQBForbidden
}

func (q *QBittorrentClient) Submit(ctx context.Context, source string) (string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", ErrNoJob
	}
	tag := "leech-" + uuid.New().String()

	resp, err := q.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetFormData(map[string]string{
			"urls":        source,
			"savepath":    q.savePath,
			"tags":        tag,
			"paused":      "false",
			"autoTMM":     "false", // 禁用自动种子管理，以便使用自定义路径
			"root_folder": "true",  // 创建根目录
		}).Post("/api/v2/torrents/add")
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK || strings.TrimSpace(resp.String()) == "Fails." {
		return "", fmt.Errorf("%w: status %s, body: %s", ErrNoJob, resp.Status(), resp.String())
	}
	return tag, nil
}

func (q *QBittorrentClient) info(ctx context.Context, tag string) (*qbTorrent, error) {
	resp, err := q.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetQueryParam("tag", tag).Get("/api/v2/torrents/info")
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("torrents/info failed: %s", resp.Status())
	}
	var torrents []qbTorrent
	if err := json.Unmarshal(resp.Body(), &torrents); err != nil {
		return nil, err
	}
	if len(torrents) == 0 {
		return nil, nil
	}
	return &torrents[0], nil
}

func (q *QBittorrentClient) Status(ctx context.Context, id string) (*Status, error) {
	t, err := q.info(ctx, id)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if t == nil {
		// 添加后 qBittorrent 需要一点时间才会列出磁力任务
		if q.seen[id] {
			return &Status{ID: id, State: StateRemoved}, nil
		}
		return &Status{ID: id, State: StatePending}, nil
	}
	q.seen[id] = true

	eta := "N/A"
	if t.ETA >= 0 && t.ETA < qbInfiniteETA {
		eta = formatETA(t.ETA)
	}
	return &Status{
		ID:             id,
		Name:           t.Name,
		Progress:       t.Progress * 100,
		Rate:           formatRate(t.DLSpeed),
		ETA:            eta,
		TotalBytes:     t.Size,
		CompletedBytes: t.Completed,
		State:          qbState(t.State),
	}, nil
}

func (q *QBittorrentClient) Remove(ctx context.Context, id string) error {
	t, err := q.info(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	resp, err := q.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetFormData(map[string]string{
			"hashes":      t.Hash,
			"deleteFiles": "true",
		}).Post("/api/v2/torrents/delete")
	})
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("torrents/delete failed: %s", resp.Status())
	}
	return nil
}

func (q *QBittorrentClient) Ping(ctx context.Context) error {
	_, err := q.GetVersion(ctx)
	return err
}

func (q *QBittorrentClient) GetVersion(ctx context.Context) (string, error) {
	resp, err := q.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.Get("/api/v2/app/version")
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("ping failed: %s, body: %s", resp.Status(), resp.String())
	}
	return resp.String(), nil
}

func qbState(s string) State {
	switch s {
	case "error", "missingFiles":
		return StateFailed
	case "uploading", "stalledUP", "pausedUP", "stoppedUP", "queuedUP", "checkingUP", "forcedUP":
		return StateComplete
	case "metaDL", "queuedDL", "checkingDL", "checkingResumeData", "allocating", "moving", "pausedDL", "stoppedDL":
		return StatePending
	default:
		return StateActive
	}
}
