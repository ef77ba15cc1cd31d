package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"alpha-engine/internal/alpha"
	"alpha-engine/internal/indicator"
	"alpha-engine/internal/model"
)

type fakeController struct {
	mu          sync.Mutex
	cur         alpha.Context
	frameGroups int
}

func (f *fakeController) FrameGroups() int { return f.frameGroups }

func (f *fakeController) Active() alpha.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

func (f *fakeController) Apply(_ context.Context, c alpha.Context) error {
	f.mu.Lock()
	f.cur = c
	f.mu.Unlock()
	return nil
}

type mapSource map[string]*model.IndicatorSeries

func (m mapSource) Latest(_ context.Context, name string) (*model.IndicatorSeries, error) {
	return m[name], nil
}

func newTestServer(t *testing.T, secret string, sources ...ResultSource) (*Server, *Hub, *fakeController) {
	t.Helper()
	hub := NewHub()
	ctl := &fakeController{}
	srv := NewServer(Config{
		Hub:             hub,
		Engine:          indicator.NewEngine(2, nil),
		Context:         ctl,
		Results:         sources,
		AdminTOTPSecret: secret,
	})
	return srv, hub, ctl
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCompute_Series(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/compute",
		`{"series":[1,2,3,4,5],"specs":["MA:3"],"context":{"flags":"strictly_cycle","groups":1}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Trace-Id"))

	var resp ComputeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "require_full_window", resp.Context.Policy)
	require.Len(t, resp.Results, 1)
	got := resp.Results[0].Values
	require.True(t, math.IsNaN(got[0]) && math.IsNaN(got[1]))
	require.Equal(t, model.Values{2, 3, 4}, got[2:])

	// missing values travel as null
	require.Contains(t, rec.Body.String(), `"values":[null,null,2,3,4]`)
}

func TestCompute_UsesActiveContext(t *testing.T) {
	srv, _, ctl := newTestServer(t, "")
	c, err := alpha.NewContext(alpha.PolicyDefault, 2)
	require.NoError(t, err)
	ctl.cur = c

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/compute",
		`{"series":[1,2,3,4,5,6,7,8,9,10],"specs":["MA:2"]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ComputeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Context.Groups)
	require.Equal(t, model.Values{1, 1.5, 2.5, 3.5, 4.5, 6, 6.5, 7.5, 8.5, 9.5}, resp.Results[0].Values)
}

func TestCompute_Errors(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	h := srv.Handler()

	cases := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"bad spec", `{"series":[1],"specs":["EMA:3"]}`, http.StatusBadRequest},
		{"no specs", `{"series":[1],"specs":[]}`, http.StatusBadRequest},
		{"no data", `{"specs":["MA:2"]}`, http.StatusBadRequest},
		{"ambiguous flags", `{"series":[1,2],"specs":["MA:2"],"context":{"flags":"skip_nan|strictly_cycle","groups":1}}`, http.StatusBadRequest},
		{"indivisible groups", `{"series":[1,2,3],"specs":["MA:2"],"context":{"flags":"none","groups":2}}`, http.StatusBadRequest},
		{"rank with missing", `{"series":[1,null,3],"specs":["RANK"]}`, http.StatusBadRequest},
		{"ragged frame", `{"frame":{"open":[1],"high":[1],"low":[1],"close":[1,2]},"specs":["FRET:0:1"]}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/compute", tc.body, nil)
			require.Equal(t, tc.code, rec.Code, rec.Body.String())
			require.Contains(t, rec.Body.String(), `"error"`)
		})
	}

	rec := do(t, h, http.MethodGet, "/api/v1/compute", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestContext_GetAndPut(t *testing.T) {
	srv, _, ctl := newTestServer(t, "")
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/context", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"policy":"default","flags":"none","groups":1}`, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/api/v1/context", `{"flags":"skip_nan","groups":3}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, alpha.PolicySkipMissing, ctl.Active().Policy())
	require.Equal(t, 3, ctl.Active().Groups())

	// rejected updates leave the active context alone
	rec = do(t, h, http.MethodPut, "/api/v1/context", `{"flags":"3","groups":3}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, alpha.PolicySkipMissing, ctl.Active().Policy())
}

func TestContext_ReportsEffectiveGroups(t *testing.T) {
	srv, _, ctl := newTestServer(t, "")
	ctl.frameGroups = 2
	h := srv.Handler()

	rec := do(t, h, http.MethodPut, "/api/v1/context", `{"flags":"none","groups":5}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"policy":"default","flags":"none","groups":5,"effective_groups":2}`, rec.Body.String())

	// no override when the counts agree
	ctl.frameGroups = 5
	rec = do(t, h, http.MethodGet, "/api/v1/context", "", nil)
	require.JSONEq(t, `{"policy":"default","flags":"none","groups":5}`, rec.Body.String())

	// a keyed frame in a compute request overrides the requested groups
	rec = do(t, h, http.MethodPost, "/api/v1/compute", `{
		"frame":{"keys":["A","B"],"ts":["2024-01-15T09:15:00Z","2024-01-15T09:16:00Z"],
			"open":[1,2,3,4],"high":[1,2,3,4],"low":[1,2,3,4],"close":[1,2,3,4]},
		"specs":["MA:2"],"context":{"flags":"none","groups":4}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ComputeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 4, resp.Context.Groups)
	require.Equal(t, 2, resp.Context.EffectiveGroups)
	require.Equal(t, 2, resp.Results[0].Groups)
}

func TestContext_RequiresOTP(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "alpha-engine", AccountName: "admin"})
	require.NoError(t, err)
	srv, _, ctl := newTestServer(t, key.Secret())
	h := srv.Handler()

	body := `{"flags":"strictly_cycle","groups":1}`
	rec := do(t, h, http.MethodPut, "/api/v1/context", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/v1/context", body, map[string]string{"X-Admin-OTP": "000000x"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)
	rec = do(t, h, http.MethodPut, "/api/v1/context", body, map[string]string{"X-Admin-OTP": code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, alpha.PolicyRequireFullWindow, ctl.Active().Policy())

	// reads stay open
	rec = do(t, h, http.MethodGet, "/api/v1/context", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestResults_LookupOrder(t *testing.T) {
	stored := mapSource{"MA_5": {Name: "MA_5", Groups: 1, Values: model.Values{42}}}
	srv, hub, _ := newTestServer(t, "", nil, stored)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/results/MA_5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"values":[42]`)

	require.NoError(t, hub.PublishResults(context.Background(), []model.IndicatorSeries{
		{Name: "RANK", Groups: 1, Values: model.Values{0.5}},
	}))
	rec = do(t, h, http.MethodGet, "/api/v1/results/RANK", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"values":[0.5]`)

	rec = do(t, h, http.MethodGet, "/api/v1/results/NOPE", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/results", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"RANK"`)
}

func TestReplay(t *testing.T) {
	srv, hub, _ := newTestServer(t, "")
	for i := 0; i < 3; i++ {
		hub.PublishResults(context.Background(), []model.IndicatorSeries{{Name: "MA_2", Groups: 1, Values: model.Values{float64(i)}}})
	}

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/replay?name=MA_2&from=2&to=3", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ChannelSeq int64             `json:"channel_seq"`
		Envelopes  []json.RawMessage `json:"envelopes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(3), body.ChannelSeq)
	require.Len(t, body.Envelopes, 2)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/v1/replay?name=MA_2", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnvelopeFormat(t *testing.T) {
	now := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)
	buf := buildEnvelope("MA_20", "pub:alpha:MA_20", []byte(`{"values":[null,1]}`), now, 42, 7)

	var env struct {
		Type       string          `json:"type"`
		Name       string          `json:"name"`
		Channel    string          `json:"channel"`
		Data       json.RawMessage `json:"data"`
		TS         time.Time       `json:"ts"`
		Seq        int64           `json:"seq"`
		ChannelSeq int64           `json:"channel_seq"`
	}
	require.NoError(t, json.Unmarshal(buf, &env), string(buf))
	require.Equal(t, "result", env.Type)
	require.Equal(t, "MA_20", env.Name)
	require.Equal(t, "pub:alpha:MA_20", env.Channel)
	require.JSONEq(t, `{"values":[null,1]}`, string(env.Data))
	require.True(t, env.TS.Equal(now))
	require.Equal(t, int64(42), env.Seq)
	require.Equal(t, int64(7), env.ChannelSeq)
}

func TestWebSocket_SubscribeFilters(t *testing.T) {
	srv, hub, _ := newTestServer(t, "")
	var counts []int
	var mu sync.Mutex
	hub.OnClientCount = func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ClientMsg{Type: "SUBSCRIBE", Names: []string{"RANK"}}))
	var ack map[string]interface{}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, "subscribed", ack["type"])

	hub.PublishResults(context.Background(), []model.IndicatorSeries{
		{Name: "MA_2", Groups: 1, Values: model.Values{1}},
		{Name: "RANK", Groups: 1, Values: model.Values{0.25}},
	})

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.True(t, bytes.Contains(msg, []byte(`"name":"RANK"`)), string(msg))

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 0}, counts)
}
