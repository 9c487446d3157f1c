package scrapers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/common"
	"github.com/ternarybob/fabula/internal/errkind"
	"github.com/ternarybob/fabula/internal/ratelimit"
)

func testFetcher(attempts int) *Fetcher {
	config := &common.HTTPConfig{
		RequestTimeout: 5 * time.Second,
		DomainDelay:    time.Millisecond,
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		UserAgent:      "fabula-test",
	}
	return NewFetcher(config, ratelimit.NewDomainLimiter(config.DomainDelay), arbor.NewLogger())
}

func TestFetcher_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fabula-test", r.Header.Get("User-Agent"))
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	resp, err := testFetcher(3).Get(context.Background(), srv.URL+"/book")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "payload", string(resp.Body))
}

func TestFetcher_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	resp, err := testFetcher(5).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetcher_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testFetcher(3).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, errkind.KindHTTPExhausted, errkind.KindOf(err))
	assert.Equal(t, int32(3), calls.Load(), "every attempt in the budget is used")
}

func TestFetcher_NotFoundFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testFetcher(5).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, errkind.KindSourceNotFound, errkind.KindOf(err))
	assert.Equal(t, int32(1), calls.Load(), "404 is not worth retrying")
}

func TestFetcher_ClientErrorFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testFetcher(5).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, errkind.KindHTTPExhausted, errkind.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetcher_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testFetcher(5).Get(ctx, srv.URL)
	require.Error(t, err)
	assert.Equal(t, errkind.KindCancelled, errkind.KindOf(err))
}

func TestFetcher_DownloadToChecksContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cover.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte{0xff, 0xd8, 0xff})
		default:
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>not an image</html>"))
		}
	}))
	defer srv.Close()

	f := testFetcher(3)

	var buf bytes.Buffer
	require.NoError(t, f.DownloadTo(context.Background(), srv.URL+"/cover.jpg", "image/", &buf))
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, buf.Bytes())

	buf.Reset()
	err := f.DownloadTo(context.Background(), srv.URL+"/error.html", "image/", &buf)
	require.Error(t, err)
	assert.Equal(t, errkind.KindParseError, errkind.KindOf(err))
	assert.Zero(t, buf.Len(), "nothing written on a rejected content type")
}
