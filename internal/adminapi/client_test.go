package adminapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "admind/pkg/logx"
)

type seenRequest struct {
	method string
	path   string
	key    string
}

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *[]seenRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []seenRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, seenRequest{method: r.Method, path: r.URL.Path, key: r.Header.Get("x-api-key")})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL, APIKey: "secret-key"}, logx.Nop(), opts...)
	require.NoError(t, err)
	return c
}

func TestInvokeSendsMethodPathAndKey(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `{"message":"ok"}`)
	c := newTestClient(t, srv.URL)

	del := c.Invoke(context.Background(), ActionDeleteUserData)
	xfer := c.Invoke(context.Background(), ActionTransferFunds)

	require.Len(t, *seen, 2)
	assert.Equal(t, seenRequest{method: http.MethodDelete, path: "/admin/user-idv-data", key: "secret-key"}, (*seen)[0])
	assert.Equal(t, seenRequest{method: http.MethodPost, path: "/admin/transfer-funds", key: "secret-key"}, (*seen)[1])

	assert.True(t, del.OK())
	assert.Equal(t, "success", del.Label())
	resp, ok := del.Payload.(*DeleteUserDataResponse)
	require.True(t, ok)
	require.NotNil(t, resp.Message)
	assert.Equal(t, "ok", *resp.Message)

	assert.Equal(t, CategorySuccess, xfer.Category)
	assert.IsType(t, &TransferFundsResponse{}, xfer.Payload)
}

func TestInvokeTransferPayload(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"optimism":{"hash":"0x1"},"fantom":null,"avalanche":{"hash":"0x2"}}`)
	c := newTestClient(t, srv.URL)

	out := c.Invoke(context.Background(), ActionTransferFunds)
	require.True(t, out.OK())
	resp := out.Payload.(*TransferFundsResponse)
	assert.JSONEq(t, `{"hash":"0x1"}`, string(resp.Optimism))
	assert.JSONEq(t, `{"hash":"0x2"}`, string(resp.Avalanche))
	assert.Nil(t, resp.Error)
}

func TestInvokeRemoteError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusInternalServerError, `{"error":"boom"}`)
	c := newTestClient(t, srv.URL)

	out := c.Invoke(context.Background(), ActionDeleteUserData)
	assert.Equal(t, CategoryRemoteError, out.Category)
	assert.Equal(t, http.StatusInternalServerError, out.Status)
	assert.Equal(t, `{"error":"boom"}`, out.Body)
	assert.NoError(t, out.ParseErr)
	assert.False(t, out.OK())
	assert.Equal(t, "remote_error", out.Label())
}

func TestInvokeMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `not json`)
	c := newTestClient(t, srv.URL)

	out := c.Invoke(context.Background(), ActionTransferFunds)
	assert.Equal(t, CategorySuccess, out.Category)
	assert.ErrorIs(t, out.ParseErr, ErrParse)
	assert.Nil(t, out.Payload)
	assert.False(t, out.OK())
	assert.Equal(t, "parse_error", out.Label())
}

func TestInvokeTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var observed []Outcome
	c := newTestClient(t, url, WithObserver(func(_ context.Context, o Outcome) {
		observed = append(observed, o)
	}))

	var out Outcome
	assert.NotPanics(t, func() { out = c.Invoke(context.Background(), ActionDeleteUserData) })
	assert.Equal(t, CategoryTransportError, out.Category)
	assert.Error(t, out.Err)
	assert.Zero(t, out.Status)
	require.Len(t, observed, 1)
	assert.Equal(t, "transport_error", observed[0].Label())
}

func TestInvokeUnknownAction(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `{}`)
	c := newTestClient(t, srv.URL)

	out := c.Invoke(context.Background(), Action("reboot"))
	assert.Equal(t, CategoryTransportError, out.Category)
	assert.Empty(t, *seen)
}

func TestObserverPanicIsContained(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{}`)
	c := newTestClient(t, srv.URL, WithObserver(func(context.Context, Outcome) { panic("observer") }))

	assert.NotPanics(t, func() { c.Invoke(context.Background(), ActionDeleteUserData) })
}

func TestNewRequiresKeyAndURL(t *testing.T) {
	_, err := New(Config{BaseURL: "http://x"}, logx.Nop())
	assert.Error(t, err)
	_, err = New(Config{APIKey: "k"}, logx.Nop())
	assert.Error(t, err)
	for _, bad := range []string{"localhost:3000", "/admin", "ftp://host", "http://"} {
		_, err = New(Config{BaseURL: bad, APIKey: "k"}, logx.Nop())
		assert.Error(t, err, "base url %q", bad)
	}
}

func TestResolveBaseURL(t *testing.T) {
	assert.Equal(t, DevBaseURL, ResolveBaseURL("dev"))
	assert.Equal(t, ProductionBaseURL, ResolveBaseURL("production"))
	assert.Equal(t, ProductionBaseURL, ResolveBaseURL("staging"))
}

func TestActionsInTickOrder(t *testing.T) {
	acts := Actions()
	assert.Equal(t, []Action{ActionDeleteUserData, ActionTransferFunds}, acts)
	for _, a := range acts {
		_, err := EndpointFor(a)
		assert.NoError(t, err, a)
	}
}

func TestEndpointFor(t *testing.T) {
	ep, err := EndpointFor(ActionTransferFunds)
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Method: http.MethodPost, Path: "/admin/transfer-funds"}, ep)

	_, err = EndpointFor("nope")
	assert.True(t, err != nil && !errors.Is(err, ErrParse))
}

func TestClipKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	body := strings.Repeat("é", 8) // 2 bytes each
	for n := 0; n < len(body); n++ {
		got := strings.TrimSuffix(clip(body, n), "...(truncated)")
		assert.True(t, utf8.ValidString(got), "n=%d: %q", n, got)
		assert.LessOrEqual(t, len(got), n)
	}
	assert.Equal(t, "éé...(truncated)", clip(body, 5))
}
