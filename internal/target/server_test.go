package target

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		AppPort:                 8080,
		Store:                   StoreMemory,
		RateMaxRequestsByIP:     2,
		RateMaxRequestsByToken:  3,
		RatePeriodWindowSeconds: 60,
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := NewServer(testConfig(), newTestMemoryStore(t), zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url, apiKey string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_Index(t *testing.T) {
	ts := newTestServer(t)

	resp := get(t, ts.URL+"/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"message": "ok"}`, string(body))
	assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", resp.Header.Get("X-RateLimit-Remaining"))
}

func TestServer_AnonymousAndKeyedBudgets(t *testing.T) {
	ts := newTestServer(t)

	var anonymous, keyed []int
	for i := 0; i < 4; i++ {
		anonymous = append(anonymous, get(t, ts.URL+"/", "").StatusCode)
		keyed = append(keyed, get(t, ts.URL+"/", "abc123").StatusCode)
	}

	assert.Equal(t, []int{200, 200, 429, 429}, anonymous)
	assert.Equal(t, []int{200, 200, 200, 429}, keyed)
}

func TestServer_HealthAndMetricsAreNotLimited(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(t, ts.URL+"/healthz", "").StatusCode)
	}

	get(t, ts.URL+"/", "")
	get(t, ts.URL+"/", "")
	get(t, ts.URL+"/", "")

	resp := get(t, ts.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	assert.Contains(t, text, `ratecheck_target_requests_total{key_type="ip",outcome="allowed"} 2`)
	assert.Contains(t, text, `ratecheck_target_requests_total{key_type="ip",outcome="limited"} 1`)
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	srv := NewServer(testConfig(), newTestMemoryStore(t), zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestNewServerFromConfig_Memory(t *testing.T) {
	srv, err := NewServerFromConfig(context.Background(), testConfig(), zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, srv.Close())
}

func TestOpenStore_RedisUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.Store = StoreRedis
	cfg.RedisHost = "127.0.0.1"
	cfg.RedisPort = 1

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := OpenStore(ctx, cfg)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to connect to redis"))
}
