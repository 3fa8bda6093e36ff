package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"shieldchat/internal/metrics"
	"shieldchat/internal/model"
	"shieldchat/internal/service/contentstore"
	"shieldchat/internal/service/ledger"
	"shieldchat/internal/service/ledger/ledgertest"
	"shieldchat/internal/service/reconciler"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testChannel  = solana.PublicKey{6, 6, 6}
	otherChannel = solana.PublicKey{5, 5, 5}
	testProgram  = solana.PublicKey{8, 8, 8}
)

type fixture struct {
	srv *httptest.Server
	rpc *ledgertest.FakeRPC
	rec *reconciler.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	rpc := ledgertest.NewFakeRPC()
	rec := reconciler.New(reconciler.Options{
		Store:   contentstore.NewClient(contentstore.Options{}, nil, m),
		Ledger:  ledger.NewSource(rpc, testProgram, 10, 2, m),
		Metrics: m,
	})
	t.Cleanup(rec.Close)

	srv := httptest.NewServer(NewHttpServer(rec, reg).Router())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, rpc: rpc, rec: rec}
}

func (f *fixture) url(path string) string {
	return f.srv.URL + path
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.url("/healthz"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestInvalidChannel(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.url("/channels/not-base58!/messages"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendThenGetAndConfirmByPush(t *testing.T) {
	f := newFixture(t)
	base := "/channels/" + testChannel.String()

	resp := post(t, f.url(base+"/messages"), map[string]any{"content": "hi there", "sender": "abc"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent sendResponse
	decode(t, resp, &sent)
	assert.NotEmpty(t, sent.ContentRef)
	assert.Len(t, sent.MessageHash, 64)
	assert.True(t, sent.Message.IsOptimistic())

	resp, err := http.Get(f.url(base + "/messages?background=true"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got messagesResponse
	decode(t, resp, &got)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hi there", got.Messages[0].Content)

	resp = post(t, f.url(base+"/push"), map[string]any{
		"data":      sent.InstructionData,
		"sender":    "abc",
		"signature": "sig-1",
		"timestamp": time.Now().Unix(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pushed pushResponse
	decode(t, resp, &pushed)
	assert.True(t, pushed.Added)

	msgs := f.rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sig-1", msgs[0].SourceSignature)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	resp := post(t, f.url("/channels/"+testChannel.String()+"/messages"), map[string]any{"content": ""})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPushRejectsBadData(t *testing.T) {
	f := newFixture(t)
	resp := post(t, f.url("/channels/"+testChannel.String()+"/push"), map[string]any{"data": "0OIl", "signature": "s"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusDoesNotSwitchChannel(t *testing.T) {
	f := newFixture(t)
	f.rec.SetChannel(testChannel)
	f.rec.EnterPushMode()

	resp, err := http.Get(f.url("/channels/" + otherChannel.String() + "/status"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st statusResponse
	decode(t, resp, &st)
	assert.False(t, st.Active)
	assert.Equal(t, otherChannel.String(), st.Channel)

	current, ok := f.rec.Channel()
	require.True(t, ok)
	assert.Equal(t, testChannel, current)
	assert.Equal(t, model.ModePushing, f.rec.Status().Mode)

	resp, err = http.Get(f.url("/channels/" + testChannel.String() + "/status"))
	require.NoError(t, err)
	decode(t, resp, &st)
	assert.True(t, st.Active)
	assert.Equal(t, "pushing", st.Mode)
}

func TestInvalidRequestsDoNotSwitchChannel(t *testing.T) {
	f := newFixture(t)
	f.rec.SetChannel(testChannel)

	resp := post(t, f.url("/channels/"+otherChannel.String()+"/push"), map[string]any{"data": "0OIl", "signature": "s"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, f.url("/channels/"+otherChannel.String()+"/messages"), map[string]any{"content": ""})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	current, ok := f.rec.Channel()
	require.True(t, ok)
	assert.Equal(t, testChannel, current)
}

func TestLedgerOutageReturns503WithKnownMessages(t *testing.T) {
	f := newFixture(t)
	f.rpc.SetListError(ledgertest.ErrUnavailable)

	resp, err := http.Get(f.url("/channels/" + testChannel.String() + "/messages"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var got messagesResponse
	decode(t, resp, &got)
	assert.NotEmpty(t, got.Error)
	assert.Equal(t, []model.Message{}, got.Messages)

	resp, err = http.Get(f.url("/channels/" + testChannel.String() + "/status"))
	require.NoError(t, err)
	var st statusResponse
	decode(t, resp, &st)
	assert.Equal(t, testChannel.String(), st.Channel)
	assert.True(t, st.Active)
	assert.Equal(t, "polling", st.Mode)
	assert.NotEmpty(t, st.Error)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.url("/channels/" + testChannel.String() + "/messages"))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(f.url("/metrics"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "shieldchat_channel_loads_total")
}
