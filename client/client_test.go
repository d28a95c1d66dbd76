package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/valyala/fastjson"

	"github.com/kbukum/rowstream/cursor/cursortest"
	"github.com/kbukum/rowstream/database"
	"github.com/kbukum/rowstream/entity"
	apperrors "github.com/kbukum/rowstream/errors"
	"github.com/kbukum/rowstream/logger"
	"github.com/kbukum/rowstream/pipeline"
	"github.com/kbukum/rowstream/server"
	"github.com/kbukum/rowstream/stream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func entityServer(t *testing.T, rows int64) *httptest.Server {
	t.Helper()
	cfg := database.Config{DSN: filepath.Join(t.TempDir(), "client.db"), RetryBackoff: "1ms"}
	cfg.ApplyDefaults()
	db, err := database.New(context.Background(), cfg, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.AutoMigrate(&entity.Entity{}); err != nil {
		t.Fatal(err)
	}
	repo := entity.NewRepository(db, logger.NewNop())
	if err := repo.Seed(context.Background(), rows); err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	entity.NewHandler(repo, server.StreamConfig{}, logger.NewNop()).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestEntitiesEndToEnd(t *testing.T) {
	srv := entityServer(t, 9981)

	for _, route := range []string{"/entities/jdbc", "/entities/batis"} {
		t.Run(route, func(t *testing.T) {
			it, err := Entities(context.Background(), srv.URL, route)
			if err != nil {
				t.Fatal(err)
			}
			got, err := pipeline.Collect(context.Background(), pipeline.From(it))
			if err != nil {
				t.Fatalf("collect: %v", err)
			}
			if len(got) != 9981 {
				t.Fatalf("rows = %d", len(got))
			}
			for i, d := range got {
				if d != entity.ToDto(entity.Fixture(int64(i))) {
					t.Fatalf("row %d = %+v", i, d)
				}
			}
		})
	}
}

func TestEntitiesLimitInRoute(t *testing.T) {
	srv := entityServer(t, 50)

	it, err := Entities(context.Background(), srv.URL, "entities/sql?limit=7")
	if err != nil {
		t.Fatal(err)
	}
	got, err := pipeline.Collect(context.Background(), pipeline.From(it))
	if err != nil || len(got) != 7 {
		t.Fatalf("rows = %d, err = %v", len(got), err)
	}
}

func TestStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(apperrors.Busy("streams").ToResponse())
	}))
	defer srv.Close()

	_, err := Entities(context.Background(), srv.URL, "/entities/sql")
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("err = %v", err)
	}
	if appErr.Code != apperrors.ErrCodeBusy || !appErr.Retryable || appErr.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("error = %+v", appErr)
	}
	if appErr.Details["resource"] != "streams" {
		t.Errorf("details = %v", appErr.Details)
	}
}

func TestStreamErrorStatusWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	_, err := Entities(context.Background(), srv.URL, "/entities/sql")
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != apperrors.ErrCodeTimeout {
		t.Fatalf("err = %v", err)
	}
}

func TestStreamRetriesOpen(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "ndjson" {
			t.Errorf("format = %q", r.URL.Query().Get("format"))
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(apperrors.Busy("streams").ToResponse())
			return
		}
		fmt.Fprintln(w, `{"id":1,"name":"Entity 1","description":"Description for Entity 1"}`)
	}))
	defer srv.Close()

	retry := DefaultRetryConfig()
	retry.InitialBackoff = time.Millisecond
	c, err := New(Config{BaseURL: srv.URL, Retry: retry})
	if err != nil {
		t.Fatal(err)
	}
	it, err := c.Entities(context.Background(), "/entities/sql")
	if err != nil {
		t.Fatal(err)
	}
	got, err := pipeline.Collect(context.Background(), pipeline.From(it))
	if err != nil || len(got) != 1 || got[0].Name != "Entity 1" {
		t.Fatalf("got %v, %v", got, err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d", calls.Load())
	}
}

func TestStreamErrorRecordEndsIteration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", server.ContentTypeNDJSON)
		fmt.Fprintln(w, `{"id":1,"name":"a","description":"x"}`)
		fmt.Fprintln(w, `{"id":2,"name":"b","description":"y"}`)
		json.NewEncoder(w).Encode(apperrors.StreamAborted(2, errors.New("read failed")).ToResponse())
	}))
	defer srv.Close()

	it, err := Entities(context.Background(), srv.URL, "/entities/sql")
	if err != nil {
		t.Fatal(err)
	}
	got, err := pipeline.Collect(context.Background(), pipeline.From(it))
	if len(got) != 2 {
		t.Fatalf("rows = %d", len(got))
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != apperrors.ErrCodeStreamAborted {
		t.Fatalf("err = %v", err)
	}
	if appErr.Details["rows_sent"] != int64(2) {
		t.Errorf("details = %v", appErr.Details)
	}
	// The error is sticky.
	if _, _, again := it.Next(context.Background()); again != err {
		t.Errorf("second Next = %v", again)
	}
}

func TestStreamErrorTrailer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Trailer", server.TrailerStreamError)
		fmt.Fprintln(w, `{"id":1,"name":"a","description":"x"}`)
		w.Header().Set(server.TrailerStreamError, string(apperrors.ErrCodeStreamAborted))
	}))
	defer srv.Close()

	it, err := Entities(context.Background(), srv.URL, "/entities/sql")
	if err != nil {
		t.Fatal(err)
	}
	got, err := pipeline.Collect(context.Background(), pipeline.From(it))
	if len(got) != 1 {
		t.Fatalf("rows = %d", len(got))
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != apperrors.ErrCodeStreamAborted {
		t.Fatalf("err = %v", err)
	}
}

func TestStreamMalformedLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"id":1}`)
		fmt.Fprintln(w, `{"id":`)
	}))
	defer srv.Close()

	it, _ := Entities(context.Background(), srv.URL, "/entities/sql")
	_, err := pipeline.Collect(context.Background(), pipeline.From(it))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("err = %v", err)
	}
}

func TestCloseCancelsServerStream(t *testing.T) {
	cur := cursortest.New(cursortest.Seq(1_000_000)...)
	r := gin.New()
	r.GET("/ints", func(c *gin.Context) {
		server.Stream(c, stream.New(cur.Source()), server.StreamOptions{
			Format: server.FormatNDJSON, FlushEvery: 1, Log: logger.NewNop(),
		})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	it, err := Stream(context.Background(), c, "/ints", func(v *fastjson.Value) (int, error) {
		return v.GetInt(), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for want := 1; want <= 3; want++ {
		n, ok, err := it.Next(context.Background())
		if err != nil || !ok || n != want {
			t.Fatalf("Next() = %d, %v, %v", n, ok, err)
		}
	}
	if err := it.Close(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for cur.Releases() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("server cursor not released after client close")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if cur.Releases() != 1 {
		t.Errorf("releases = %d", cur.Releases())
	}
}

func TestConfigValidate(t *testing.T) {
	for _, base := range []string{"", "ftp://host", "://bad"} {
		if _, err := New(Config{BaseURL: base}); err == nil {
			t.Errorf("New(%q) should fail", base)
		}
	}
}

func TestExportWritesWindows(t *testing.T) {
	dtos := make([]entity.Dto, 25)
	for i := range dtos {
		dtos[i] = entity.ToDto(entity.Fixture(int64(i)))
	}
	var out bytes.Buffer
	stats, err := Export(context.Background(), pipeline.FromSlice(dtos).Iter(context.Background()), &out, 10, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Rows != 25 || stats.Windows != 3 {
		t.Errorf("stats = %+v", stats)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 25 {
		t.Fatalf("lines = %d", len(lines))
	}
	var last entity.Dto
	if err := json.Unmarshal([]byte(lines[24]), &last); err != nil {
		t.Fatal(err)
	}
	if last != dtos[24] {
		t.Errorf("last = %+v", last)
	}
}

func TestExportKeepsWideIDs(t *testing.T) {
	d := entity.Dto{ID: 1<<40 + 3, Name: "wide", Description: "beyond 32 bits"}
	var out bytes.Buffer
	if _, err := Export(context.Background(), pipeline.FromSlice([]entity.Dto{d}).Iter(context.Background()), &out, 10, logger.NewNop()); err != nil {
		t.Fatal(err)
	}
	if want := `{"id":1099511627779,`; !strings.HasPrefix(out.String(), want) {
		t.Errorf("line = %q, want prefix %q", out.String(), want)
	}
}

func TestExportStopsOnStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		for i := 1; i <= 12; i++ {
			fmt.Fprintf(w, `{"id":%d,"name":"n","description":"d"}`+"\n", i)
		}
		json.NewEncoder(w).Encode(apperrors.StreamAborted(12, errors.New("boom")).ToResponse())
	}))
	defer srv.Close()

	it, err := Entities(context.Background(), srv.URL, "/entities/sql")
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	stats, err := Export(context.Background(), it, &out, 10, logger.NewNop())
	if err == nil {
		t.Fatal("expected stream error")
	}
	// The complete window is written, then the partial one, then the error.
	if stats.Rows != 12 || stats.Windows != 2 {
		t.Errorf("stats = %+v", stats)
	}
}
