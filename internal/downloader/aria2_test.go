package downloader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAria2 answers JSON-RPC calls from a method -> handler table.
type fakeAria2 struct {
	mu       sync.Mutex
	calls    []rpcRequest
	handlers map[string]func(params []interface{}) (interface{}, *rpcError)
}

func (f *fakeAria2) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	f.calls = append(f.calls, req)
	h := f.handlers[req.Method]
	f.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if h == nil {
		resp["error"] = rpcError{Code: 1, Message: "unknown method"}
	} else if result, rerr := h(req.Params); rerr != nil {
		w.WriteHeader(http.StatusBadRequest)
		resp["error"] = rerr
	} else {
		resp["result"] = result
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func TestAria2_SubmitSendsTokenAndDir(t *testing.T) {
	fake := &fakeAria2{handlers: map[string]func([]interface{}) (interface{}, *rpcError){
		"aria2.addUri": func(params []interface{}) (interface{}, *rpcError) { return "2089b05ecca3d829", nil },
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewAria2Client(srv.URL, "s3cret", "/downloads")
	gid, err := c.Submit(context.Background(), "magnet:?xt=urn:btih:abc")
	require.NoError(t, err)
	assert.Equal(t, "2089b05ecca3d829", gid)

	require.Len(t, fake.calls, 1)
	params := fake.calls[0].Params
	assert.Equal(t, "token:s3cret", params[0])
	assert.Equal(t, []interface{}{"magnet:?xt=urn:btih:abc"}, params[1])
	assert.Equal(t, map[string]interface{}{"dir": "/downloads"}, params[2])
}

func TestAria2_SubmitEmptySource(t *testing.T) {
	c := NewAria2Client("http://127.0.0.1:1/jsonrpc", "", "")
	_, err := c.Submit(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestAria2_StatusFollowsMagnetMetadata(t *testing.T) {
	fake := &fakeAria2{handlers: map[string]func([]interface{}) (interface{}, *rpcError){
		"aria2.tellStatus": func(params []interface{}) (interface{}, *rpcError) {
			switch params[0] {
			case "meta":
				return map[string]interface{}{"gid": "meta", "status": "complete", "followedBy": []string{"real"}}, nil
			case "real":
				return map[string]interface{}{
					"gid": "real", "status": "active",
					"totalLength": "1000", "completedLength": "250", "downloadSpeed": "100",
					"bittorrent": map[string]interface{}{"info": map[string]string{"name": "[Grp] Show - 01"}},
				}, nil
			}
			return nil, &rpcError{Code: 1, Message: "GID x is not found"}
		},
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewAria2Client(srv.URL, "", "")
	st, err := c.Status(context.Background(), "meta")
	require.NoError(t, err)
	assert.Equal(t, "meta", st.ID)
	assert.Equal(t, "[Grp] Show - 01", st.Name)
	assert.Equal(t, StateActive, st.State)
	assert.InDelta(t, 25.0, st.Progress, 0.01)
	assert.Equal(t, "100 B/s", st.Rate)
	assert.Equal(t, "7s", st.ETA)
}

func TestAria2_StatusNotFoundIsRemoved(t *testing.T) {
	fake := &fakeAria2{handlers: map[string]func([]interface{}) (interface{}, *rpcError){
		"aria2.tellStatus": func(params []interface{}) (interface{}, *rpcError) {
			return nil, &rpcError{Code: 1, Message: "GID 1 is not found"}
		},
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	st, err := NewAria2Client(srv.URL, "", "").Status(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, StateRemoved, st.State)
}

func TestAria2_StatusUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	st, err := NewAria2Client(srv.URL, "", "").Status(context.Background(), "1")
	assert.Error(t, err)
	assert.Nil(t, st)
}

func TestAria2State(t *testing.T) {
	assert.Equal(t, StateFailed, aria2State("error"))
	assert.Equal(t, StatePending, aria2State("waiting"))
	assert.Equal(t, StatePending, aria2State("paused"))
	assert.Equal(t, StateRemoved, aria2State("removed"))
	assert.True(t, StateComplete.Terminal())
	assert.False(t, StateActive.Terminal())
}
