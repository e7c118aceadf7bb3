package purge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingWaiter struct {
	keys []string
	err  error
}

func (w *recordingWaiter) Wait(_ context.Context, key string) error {
	w.keys = append(w.keys, key)
	return w.err
}

func TestPurgeDisabledMakesNoRequest(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	for _, cfg := range []Config{
		{APIBase: srv.URL},
		{APIBase: srv.URL, ZoneID: "zone"},
		{APIBase: srv.URL, APIToken: "token"},
	} {
		New(cfg, srv.Client(), nil, nil).Purge(context.Background(), "https://example.sg/a")
	}
	require.Zero(t, hits.Load())
}

func TestPurgeSendsSingleFile(t *testing.T) {
	t.Parallel()

	var (
		gotPath  string
		gotAuth  string
		gotFiles []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		var body purgeRequest
		_ = json.Unmarshal(raw, &body)
		gotFiles = body.Files
		_, _ = w.Write([]byte(`{"success":true,"errors":[],"result":{"id":"x"}}`))
	}))
	defer srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	waiter := &recordingWaiter{}
	client := New(Config{APIBase: srv.URL + "/", ZoneID: "zone-9", APIToken: "secret"}, srv.Client(), waiter, zap.New(core))
	client.Purge(context.Background(), "https://example.sg/page")

	require.Equal(t, "/zones/zone-9/purge_cache", gotPath)
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, []string{"https://example.sg/page"}, gotFiles)
	require.Equal(t, []string{"zone-9"}, waiter.keys)
	require.Zero(t, logs.Len())
}

func TestPurgeFailuresAreLoggedNotRaised(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		waitErr error
		want    string
	}{
		{
			name: "success flag false",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"success":false,"errors":[{"code":1012,"message":"bad file"}]}`))
			},
			want: "1012 bad file",
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
			want: "decode purge response",
		},
		{
			name:    "limiter error",
			handler: func(http.ResponseWriter, *http.Request) {},
			waitErr: errors.New("limiter closed"),
			want:    "limiter closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			core, logs := observer.New(zap.WarnLevel)
			client := New(
				Config{APIBase: srv.URL, ZoneID: "z", APIToken: "t", Timeout: time.Second},
				srv.Client(),
				&recordingWaiter{err: tt.waitErr},
				zap.New(core),
			)
			require.NotPanics(t, func() { client.Purge(context.Background(), "https://example.sg/") })
			require.Equal(t, 1, logs.Len())
			require.Contains(t, logs.All()[0].ContextMap()["error"], tt.want)
		})
	}
}

func TestPurgeNetworkErrorIsSwallowed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	client := New(Config{APIBase: base, ZoneID: "z", APIToken: "t", Timeout: time.Second}, nil, nil, zap.New(core))
	client.Purge(context.Background(), "https://example.sg/")
	require.Equal(t, 1, logs.Len())
}
