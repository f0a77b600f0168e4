package downloader

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hekmon/transmissionrpc/v3"
)

var transmissionFields = []string{"id", "name", "percentDone", "rateDownload", "eta", "status", "error", "errorString"}

// TransmissionClient adapts a Transmission daemon to Engine. Job ids are the
// daemon's numeric torrent ids.
type TransmissionClient struct {
	client *transmissionrpc.Client
	dir    string
}

func NewTransmissionClient(rpcURL, username, password, dir string) (*TransmissionClient, error) {
	endpoint, err := url.Parse(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("parse transmission url: %w", err)
	}
	if username != "" {
		endpoint.User = url.UserPassword(username, password)
	}
	client, err := transmissionrpc.New(endpoint, nil)
	if err != nil {
		return nil, err
	}
	return &TransmissionClient{client: client, dir: dir}, nil
}

func (t *TransmissionClient) Submit(ctx context.Context, source string) (string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", ErrNoJob
	}
	payload := transmissionrpc.TorrentAddPayload{Filename: &source}
	if t.dir != "" {
		payload.DownloadDir = &t.dir
	}
	torrent, err := t.client.TorrentAdd(ctx, payload)
	if err != nil {
		return "", err
	}
	if torrent.ID == nil {
		return "", ErrNoJob
	}
	return strconv.FormatInt(*torrent.ID, 10), nil
}

func (t *TransmissionClient) Status(ctx context.Context, id string) (*Status, error) {
	tid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad transmission id %q: %w", id, err)
	}
	torrents, err := t.client.TorrentGet(ctx, transmissionFields, []int64{tid})
	if err != nil {
		return nil, err
	}
	if len(torrents) == 0 {
		return &Status{ID: id, State: StateRemoved}, nil
	}
	tr := torrents[0]

	st := &Status{ID: id, ETA: "N/A", Rate: formatRate(0), State: StateActive}
	if tr.Name != nil {
		st.Name = *tr.Name
	}
	if tr.PercentDone != nil {
		st.Progress = *tr.PercentDone * 100
	}
	if tr.RateDownload != nil {
		st.Rate = formatRate(*tr.RateDownload)
	}
	if tr.ETA != nil {
		st.ETA = formatETA(*tr.ETA)
	}

	switch {
	case tr.Error != nil && *tr.Error != 0:
		st.State = StateFailed
	case tr.PercentDone != nil && *tr.PercentDone >= 1:
		st.State = StateComplete
	case tr.Status != nil && *tr.Status == transmissionrpc.TorrentStatusDownload:
		st.State = StateActive
	default:
		st.State = StatePending
	}
	return st, nil
}

func (t *TransmissionClient) Remove(ctx context.Context, id string) error {
	tid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("bad transmission id %q: %w", id, err)
	}
	return t.client.TorrentRemove(ctx, transmissionrpc.TorrentRemovePayload{
		IDs:             []int64{tid},
		DeleteLocalData: true,
	})
}

func (t *TransmissionClient) Ping(ctx context.Context) error {
	ok, serverVersion, minVersion, err := t.client.RPCVersion(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("transmission rpc version %d (min %d) is not supported", serverVersion, minVersion)
	}
	return nil
}
