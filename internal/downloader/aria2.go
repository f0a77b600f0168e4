package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Aria2Client talks to an aria2c daemon over JSON-RPC.
type Aria2Client struct {
	client *resty.Client
	url    string
	secret string
	dir    string

	mu     sync.Mutex
	follow map[string]string // 磁力元数据任务 gid -> 真实下载 gid
}

func NewAria2Client(rpcURL, secret, dir string) *Aria2Client {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json")

	return &Aria2Client{
		client: client,
		url:    rpcURL,
		secret: secret,
		dir:    dir,
		follow: make(map[string]string),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("aria2 rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type aria2Status struct {
	GID             string   `json:"gid"`
	Status          string   `json:"status"`
	TotalLength     string   `json:"totalLength"`
	CompletedLength string   `json:"completedLength"`
	DownloadSpeed   string   `json:"downloadSpeed"`
	ErrorMessage    string   `json:"errorMessage"`
	FollowedBy      []string `json:"followedBy"`
	Bittorrent      *struct {
		Info struct {
			Name string `json:"name"`
		} `json:"info"`
	} `json:"bittorrent"`
	Files []struct {
		Path string `json:"path"`
	} `json:"files"`
}

func (a *Aria2Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if a.secret != "" {
		params = append([]interface{}{"token:" + a.secret}, params...)
	}
	req := rpcRequest{JSONRPC: "2.0", ID: "leech", Method: method, Params: params}

	resp, err := a.client.R().SetContext(ctx).SetBody(req).Post(a.url)
	if err != nil {
		return err
	}

	var body rpcResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return fmt.Errorf("aria2 %s: bad response (status %s): %w", method, resp.Status(), err)
	}
	if body.Error != nil {
		if strings.Contains(strings.ToLower(body.Error.Message), "not found") {
			return fmt.Errorf("%w: %s", ErrJobNotFound, body.Error.Message)
		}
		return body.Error
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body.Result, out)
}

func (a *Aria2Client) Submit(ctx context.Context, source string) (string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", ErrNoJob
	}
	var gid string
	opts := map[string]string{}
	if a.dir != "" {
		opts["dir"] = a.dir
	}
	if err := a.call(ctx, "aria2.addUri", []interface{}{[]string{source}, opts}, &gid); err != nil {
		return "", err
	}
	if gid == "" {
		return "", ErrNoJob
	}
	return gid, nil
}

func (a *Aria2Client) resolve(id string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		next, ok := a.follow[id]
		if !ok {
			return id
		}
		id = next
	}
}

func (a *Aria2Client) Status(ctx context.Context, id string) (*Status, error) {
	gid := a.resolve(id)
	keys := []string{"gid", "status", "totalLength", "completedLength", "downloadSpeed", "errorMessage", "followedBy", "bittorrent", "files"}

	var st aria2Status
	if err := a.call(ctx, "aria2.tellStatus", []interface{}{gid, keys}, &st); err != nil {
		if isNotFound(err) {
			return &Status{ID: id, State: StateRemoved}, nil
		}
		return nil, err
	}

	// magnet: the metadata download completes and hands over to the real one
	if st.Status == "complete" && len(st.FollowedBy) > 0 {
		a.mu.Lock()
		a.follow[gid] = st.FollowedBy[0]
		a.mu.Unlock()
		return a.Status(ctx, id)
	}

	total, _ := strconv.ParseInt(st.TotalLength, 10, 64)
	completed, _ := strconv.ParseInt(st.CompletedLength, 10, 64)
	speed, _ := strconv.ParseInt(st.DownloadSpeed, 10, 64)

	return &Status{
		ID:             id,
		Name:           aria2Name(st),
		Progress:       percent(total, completed),
		Rate:           formatRate(speed),
		ETA:            etaFrom(total, completed, speed),
		TotalBytes:     total,
		CompletedBytes: completed,
		State:          aria2State(st.Status),
	}, nil
}

func (a *Aria2Client) Remove(ctx context.Context, id string) error {
	gid := a.resolve(id)
	err := a.call(ctx, "aria2.forceRemove", []interface{}{gid}, nil)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

func (a *Aria2Client) Ping(ctx context.Context) error {
	return a.call(ctx, "aria2.getVersion", []interface{}{}, nil)
}

func aria2Name(st aria2Status) string {
	if st.Bittorrent != nil && st.Bittorrent.Info.Name != "" {
		return st.Bittorrent.Info.Name
	}
	if len(st.Files) > 0 && st.Files[0].Path != "" && !strings.HasPrefix(st.Files[0].Path, "[METADATA]") {
		return filepath.Base(st.Files[0].Path)
	}
	return ""
}

func aria2State(s string) State {
	switch s {
	case "active":
		return StateActive
	case "waiting", "paused":
		return StatePending
	case "complete":
		return StateComplete
	case "removed":
		return StateRemoved
	case "error":
		return StateFailed
	default:
		return StatePending
	}
}
