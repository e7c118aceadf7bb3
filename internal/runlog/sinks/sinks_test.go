package sinks

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/edge-warmer/internal/runlog"
)

func sampleBatch() runlog.Batch {
	start := time.Date(2026, 10, 19, 2, 30, 5, 0, time.UTC)
	return runlog.Batch{
		SheetName: runlog.SheetName(start),
		Rows: []runlog.Row{{
			RunID:      "run-1",
			StartedAt:  start,
			FinishedAt: start.Add(time.Minute),
			Fields:     runlog.Fields{Country: "SG", URL: "https://example.sg/", Message: "Found 1 URLs"},
		}},
	}
}

func TestSheetSinkPostsJSON(t *testing.T) {
	t.Parallel()

	var (
		gotContentType string
		gotBody        map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := NewSheetSink(srv.URL, nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, "sheet", sink.Name())
	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))

	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, "2026-10-19_10-30-05_UTC+8", gotBody["sheetName"])
	rows, ok := gotBody["rows"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	first, ok := rows[0].([]any)
	require.True(t, ok)
	require.Equal(t, "run-1", first[0])
	require.Equal(t, "Found 1 URLs", first[11])
}

func TestSheetSinkReportsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sink, err := NewSheetSink(srv.URL, srv.Client(), time.Second)
	require.NoError(t, err)
	err = sink.Consume(context.Background(), sampleBatch())
	require.ErrorContains(t, err, "429")
	require.ErrorContains(t, err, "quota exceeded")
}

func TestSheetSinkRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewSheetSink(" ", nil, time.Second)
	require.Error(t, err)
}

type bufferWriter struct {
	bytes.Buffer
	closed   bool
	writeErr error
	closeErr error
}

func (w *bufferWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.Buffer.Write(p)
}

func (w *bufferWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func TestGCSSinkWritesObject(t *testing.T) {
	t.Parallel()

	writer := &bufferWriter{}
	var gotBucket, gotObject string
	sink, err := newGCSSink("warm-logs", "/runs/", func(_ context.Context, bucket, object string) ObjectWriter {
		gotBucket, gotObject = bucket, object
		return writer
	})
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))
	require.Equal(t, "warm-logs", gotBucket)
	require.Equal(t, "runs/2026-10-19_10-30-05_UTC+8.json", gotObject)
	require.True(t, writer.closed)
	require.Contains(t, writer.String(), `"sheetName":"2026-10-19_10-30-05_UTC+8"`)
}

func TestGCSSinkWriteFailureClosesWriter(t *testing.T) {
	t.Parallel()

	writer := &bufferWriter{writeErr: errors.New("disk full")}
	sink, err := newGCSSink("warm-logs", "", func(context.Context, string, string) ObjectWriter { return writer })
	require.NoError(t, err)
	require.Equal(t, "x.json", sink.ObjectName("x"))

	err = sink.Consume(context.Background(), sampleBatch())
	require.ErrorContains(t, err, "disk full")
	require.True(t, writer.closed)
}

func TestGCSSinkValidation(t *testing.T) {
	t.Parallel()

	_, err := NewGCSSink(nil, "bucket", "")
	require.Error(t, err)
	_, err = newGCSSink("", "", nil)
	require.Error(t, err)
}

func TestLogSinkEmitsOneEntryPerRow(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "https://example.sg/", logs.All()[0].ContextMap()["url"])
}
