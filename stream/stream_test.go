package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kbukum/rowstream/cursor"
	"github.com/kbukum/rowstream/cursor/cursortest"
	"github.com/kbukum/rowstream/logger"
	"github.com/kbukum/rowstream/observability"
	"github.com/kbukum/rowstream/pipeline"
	"github.com/kbukum/rowstream/resilience"
)

func quiet() Option { return WithLogger(logger.NewNop()) }

func execute[T any](t *testing.T, c *cursortest.Cursor[T], opts ...Option) *Stream[T] {
	t.Helper()
	s, err := NewProducer[T](append([]Option{quiet()}, opts...)...).Execute(c.Source())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return s
}

func TestStream_ConsumesAllRowsAndReleasesOnce(t *testing.T) {
	const n = 100
	c := cursortest.New(cursortest.Seq(n)...)
	s := execute(t, c)
	ctx := context.Background()

	for want := 1; want <= n; want++ {
		got, ok, err := s.Next(ctx)
		if err != nil || !ok || got != want {
			t.Fatalf("Next = %d, %v, %v; want %d", got, ok, err, want)
		}
		if c.Releases() != 0 {
			t.Fatalf("released early after row %d", want)
		}
	}
	if _, ok, err := s.Next(ctx); ok || err != nil {
		t.Fatalf("expected completion, got ok=%v err=%v", ok, err)
	}
	if c.Releases() != 1 {
		t.Errorf("releases = %d, want 1", c.Releases())
	}
	if c.Advances() != n+1 {
		t.Errorf("advances = %d, want %d", c.Advances(), n+1)
	}
	if s.Outcome() != OutcomeCompleted || s.Rows() != n {
		t.Errorf("outcome = %q, rows = %d", s.Outcome(), s.Rows())
	}

	if _, ok, err := s.Next(ctx); ok || err != nil {
		t.Errorf("Next after completion: ok=%v err=%v", ok, err)
	}
	if c.Advances() != n+1 || c.Releases() != 1 {
		t.Errorf("completed stream touched the cursor again")
	}
}

func TestStream_EmptyCursorCompletesImmediately(t *testing.T) {
	c := cursortest.New[int]()
	s := execute(t, c)
	if _, ok, err := s.Next(context.Background()); ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if c.Releases() != 1 || c.Advances() != 1 {
		t.Errorf("releases = %d, advances = %d", c.Releases(), c.Advances())
	}
}

func TestStream_CancelAfterK(t *testing.T) {
	c := cursortest.New(cursortest.Seq(50)...)
	s := execute(t, c)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, ok, err := s.Next(ctx); !ok || err != nil {
			t.Fatalf("row %d: ok=%v err=%v", i, ok, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Releases() != 1 {
		t.Fatalf("releases = %d after cancel", c.Releases())
	}
	if c.Advances() != 7 {
		t.Errorf("advances = %d, want 7", c.Advances())
	}
	if s.Outcome() != OutcomeCancelled {
		t.Errorf("outcome = %q", s.Outcome())
	}

	if _, ok, err := s.Next(ctx); ok || !errors.Is(err, ErrCursorClosed) {
		t.Errorf("Next after cancel: ok=%v err=%v, want ErrCursorClosed", ok, err)
	}
	if c.Advances() != 7 {
		t.Errorf("advance issued after cancellation")
	}
}

func TestStream_SecondExecuteFails(t *testing.T) {
	c := cursortest.New(1, 2, 3)
	p := NewProducer[int](quiet())
	s, err := p.Execute(c.Source())
	if err != nil {
		t.Fatal(err)
	}
	other := cursortest.New(9)
	if _, err := p.Execute(other.Source()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Execute = %v, want ErrAlreadyActive", err)
	}
	if other.Opens() != 0 {
		t.Error("second Execute opened a cursor")
	}

	got, err := pipeline.Collect(context.Background(), s.Pipeline())
	if err != nil || len(got) != 3 {
		t.Fatalf("first stream: %v, %v", got, err)
	}
	if c.Opens() != 1 {
		t.Errorf("opens = %d, want 1", c.Opens())
	}
	if _, err := p.Execute(c.Source()); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("Execute after completion = %v", err)
	}
}

func TestStream_FailureOnKPlusOne(t *testing.T) {
	boom := errors.New("connection reset")
	c := cursortest.New(cursortest.Seq(20)...).FailOn(6, boom)
	s := execute(t, c)
	ctx := context.Background()

	for want := 1; want <= 5; want++ {
		got, ok, err := s.Next(ctx)
		if err != nil || !ok || got != want {
			t.Fatalf("Next = %d, %v, %v", got, ok, err)
		}
	}
	_, ok, err := s.Next(ctx)
	if ok || !errors.Is(err, ErrRead) || !errors.Is(err, boom) {
		t.Fatalf("expected read error, got ok=%v err=%v", ok, err)
	}
	if c.Releases() != 1 {
		t.Errorf("releases = %d, want 1", c.Releases())
	}
	if s.Outcome() != OutcomeFailed {
		t.Errorf("outcome = %q", s.Outcome())
	}

	_, _, again := s.Next(ctx)
	if !errors.Is(again, boom) {
		t.Errorf("terminal error not sticky: %v", again)
	}
	if c.Advances() != 6 || c.Releases() != 1 {
		t.Errorf("advances = %d, releases = %d", c.Advances(), c.Releases())
	}
}

func TestStream_ReleaseIsIdempotent(t *testing.T) {
	c := cursortest.New(1, 2)
	p := NewProducer[int](quiet())
	s, _ := p.Execute(c.Source())
	if _, _, err := s.Next(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.Close()
	s.Close()
	p.Release()
	p.Release()
	if c.Releases() != 1 {
		t.Errorf("releases = %d, want 1", c.Releases())
	}
}

func TestStream_ReleaseBeforeOpenIsNoop(t *testing.T) {
	c := cursortest.New(1)
	p := NewProducer[int](quiet())
	p.Release()
	s, err := p.Execute(c.Source())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.Next(context.Background()); ok || !errors.Is(err, ErrCursorClosed) {
		t.Errorf("Next on released producer: ok=%v err=%v", ok, err)
	}
	if err := s.Open(context.Background()); !errors.Is(err, ErrCursorClosed) {
		t.Errorf("Open on released producer = %v", err)
	}
	if c.Opens() != 0 || c.Releases() != 0 {
		t.Errorf("opens = %d, releases = %d", c.Opens(), c.Releases())
	}
}

func TestStream_IsLazy(t *testing.T) {
	c := cursortest.New(1, 2)
	s := execute(t, c)
	if c.Opens() != 0 {
		t.Fatal("Execute opened the cursor")
	}
	if _, _, err := s.Next(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Opens() != 1 {
		t.Errorf("opens = %d after first Next", c.Opens())
	}
	s.Close()
}

func TestStream_OpenIsEagerAndIdempotent(t *testing.T) {
	c := cursortest.New(1, 2)
	s := execute(t, c)
	ctx := context.Background()

	if err := s.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if c.Opens() != 1 || c.Advances() != 0 {
		t.Errorf("opens = %d, advances = %d", c.Opens(), c.Advances())
	}
	got, err := pipeline.Collect(ctx, s.Pipeline())
	if err != nil || len(got) != 2 {
		t.Errorf("got %v, %v", got, err)
	}
	if c.Releases() != 1 {
		t.Errorf("releases = %d", c.Releases())
	}
}

func TestStream_AcquisitionFailure(t *testing.T) {
	cause := errors.New("too many connections")
	s, _ := NewProducer[int](quiet()).Execute(cursortest.FailingSource[int](cause))

	if err := s.Open(context.Background()); !errors.Is(err, ErrAcquisition) || !errors.Is(err, cause) {
		t.Fatalf("Open = %v", err)
	}
	if _, ok, err := s.Next(context.Background()); ok || !errors.Is(err, ErrAcquisition) {
		t.Errorf("Next after failed open: ok=%v err=%v", ok, err)
	}
	if s.Outcome() != OutcomeFailed {
		t.Errorf("outcome = %q", s.Outcome())
	}
}

func TestStream_PlainSourceErrorIsAcquisition(t *testing.T) {
	s := New[int](func(context.Context) (cursor.Cursor[int], error) {
		return nil, errors.New("dial tcp: refused")
	}, quiet())
	if _, _, err := s.Next(context.Background()); !errors.Is(err, ErrAcquisition) {
		t.Errorf("err = %v, want ErrAcquisition", err)
	}
}

func TestStream_CancelledContextBeforeNext(t *testing.T) {
	c := cursortest.New(1, 2, 3)
	s := execute(t, c)
	if _, _, err := s.Next(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok, err := s.Next(ctx); ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if c.Releases() != 1 || c.Advances() != 1 {
		t.Errorf("releases = %d, advances = %d", c.Releases(), c.Advances())
	}
	if s.Outcome() != OutcomeCancelled {
		t.Errorf("outcome = %q", s.Outcome())
	}
}

func TestStream_CancelledContextBeforeOpen(t *testing.T) {
	c := cursortest.New(1)
	s := execute(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if c.Opens() != 0 {
		t.Error("cursor opened after cancellation")
	}
}

func TestStream_ContextCancelledDuringAdvance(t *testing.T) {
	c := cursortest.New(1, 2, 3).BlockOn(2)
	s := execute(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, _, err := s.Next(ctx); err != nil {
		t.Fatal(err)
	}
	go func() {
		<-c.Entered()
		cancel()
	}()
	_, ok, err := s.Next(ctx)
	if ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if s.Outcome() != OutcomeCancelled || c.Releases() != 1 {
		t.Errorf("outcome = %q, releases = %d", s.Outcome(), c.Releases())
	}
}

func TestStream_PerPullContextsDoNotEndSession(t *testing.T) {
	c := cursortest.New(1, 2, 3)
	var session context.Context
	s := New[int](func(ctx context.Context) (cursor.Cursor[int], error) {
		session = ctx
		return c, nil
	}, quiet())

	for want := 1; want <= 3; want++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		got, ok, err := s.Next(ctx)
		cancel()
		if err != nil || !ok || got != want {
			t.Fatalf("pull %d = %d, %v, %v", want, got, ok, err)
		}
		if session.Err() != nil {
			t.Fatalf("session context ended with pull %d", want)
		}
	}
	if s.Outcome() != "" {
		t.Errorf("outcome = %q while live", s.Outcome())
	}

	s.Close()
	if session.Err() == nil {
		t.Error("session context still live after release")
	}
	if c.Releases() != 1 {
		t.Errorf("releases = %d", c.Releases())
	}
}

func TestStream_NilCursorIsAcquisition(t *testing.T) {
	s := New[int](func(context.Context) (cursor.Cursor[int], error) {
		return nil, nil
	}, quiet())
	if err := s.Open(context.Background()); !errors.Is(err, ErrAcquisition) {
		t.Fatalf("Open = %v, want ErrAcquisition", err)
	}
	if _, ok, err := s.Next(context.Background()); ok || !errors.Is(err, ErrAcquisition) {
		t.Errorf("Next = %v, %v", ok, err)
	}
	if s.Outcome() != OutcomeFailed {
		t.Errorf("outcome = %q", s.Outcome())
	}
}

func TestStream_ConcurrentNextFailsFast(t *testing.T) {
	c := cursortest.New(1, 2, 3).BlockOn(2)
	s := execute(t, c)
	ctx := context.Background()
	if _, _, err := s.Next(ctx); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var blockedRow int
	var blockedErr error
	go func() {
		defer wg.Done()
		blockedRow, _, blockedErr = s.Next(ctx)
	}()
	<-c.Entered()

	if _, _, err := s.Next(ctx); !errors.Is(err, ErrConcurrentAccess) {
		t.Errorf("overlapping Next = %v, want ErrConcurrentAccess", err)
	}
	if err := s.Open(ctx); !errors.Is(err, ErrConcurrentAccess) {
		t.Errorf("overlapping Open = %v, want ErrConcurrentAccess", err)
	}
	if c.Advances() != 2 {
		t.Errorf("overlapping pull advanced the cursor: %d", c.Advances())
	}

	c.Unblock()
	wg.Wait()
	if blockedErr != nil || blockedRow != 2 {
		t.Errorf("blocked Next = %d, %v", blockedRow, blockedErr)
	}
	s.Close()
	if c.Releases() != 1 {
		t.Errorf("releases = %d", c.Releases())
	}
}

func TestStream_ExternalCloseDuringAdvanceReleasesOnce(t *testing.T) {
	c := cursortest.New(1, 2, 3).BlockOn(1)
	s := execute(t, c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Next(context.Background())
	}()
	<-c.Entered()
	s.Close()
	c.Unblock()
	<-done

	if _, ok, _ := s.Next(context.Background()); ok {
		t.Error("stream yielded after Close")
	}
	if c.Releases() != 1 {
		t.Errorf("releases = %d, want 1", c.Releases())
	}
}

func TestStream_BatchedCancellationReleasesOnce(t *testing.T) {
	c := cursortest.New(cursortest.Seq(95)...)
	s := execute(t, c)
	windows := pipeline.Batch(s.Pipeline(), 10, 0).Iter(context.Background())

	for i := 0; i < 3; i++ {
		w, ok, err := windows.Next(context.Background())
		if err != nil || !ok || len(w) != 10 || w[0] != i*10+1 {
			t.Fatalf("window %d = %v, %v, %v", i, w, ok, err)
		}
	}
	windows.Close()
	if c.Releases() != 1 || c.Advances() != 30 {
		t.Errorf("releases = %d, advances = %d", c.Releases(), c.Advances())
	}
}

func TestStream_BatchedFailureSurfacesAfterPartialWindow(t *testing.T) {
	boom := errors.New("disk read")
	c := cursortest.New(cursortest.Seq(95)...).FailOn(14, boom)
	s := execute(t, c)

	windows, err := pipeline.Collect(context.Background(), pipeline.Batch(s.Pipeline(), 10, 0))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(windows) != 2 || len(windows[1]) != 3 {
		t.Errorf("windows = %v", windows)
	}
	if c.Releases() != 1 || c.Advances() != 14 {
		t.Errorf("releases = %d, advances = %d", c.Releases(), c.Advances())
	}
}

func TestStream_TakeReleasesAfterLimit(t *testing.T) {
	c := cursortest.New(cursortest.Seq(1000)...)
	s := execute(t, c)
	got, err := pipeline.Collect(context.Background(), pipeline.Take(s.Pipeline(), 25))
	if err != nil || len(got) != 25 {
		t.Fatalf("got %d rows, err %v", len(got), err)
	}
	if c.Releases() != 1 || c.Advances() != 25 {
		t.Errorf("releases = %d, advances = %d", c.Releases(), c.Advances())
	}
}

func TestStream_BulkheadBoundsOpenCursors(t *testing.T) {
	bh := resilience.NewBulkhead(resilience.BulkheadConfig{Name: "cursors", MaxConcurrent: 1})
	ctx := context.Background()

	first := cursortest.New(1, 2)
	a := execute(t, first, WithBulkhead(bh))
	if err := a.Open(ctx); err != nil {
		t.Fatal(err)
	}

	second := cursortest.New(3)
	b := execute(t, second, WithBulkhead(bh))
	err := b.Open(ctx)
	if !errors.Is(err, ErrAcquisition) || !errors.Is(err, resilience.ErrBulkheadFull) {
		t.Fatalf("Open with full bulkhead = %v", err)
	}
	if second.Opens() != 0 {
		t.Error("cursor opened without a slot")
	}

	if _, err := pipeline.Collect(ctx, a.Pipeline()); err != nil {
		t.Fatal(err)
	}
	if bh.InUse() != 0 {
		t.Fatalf("slot not returned on completion: in use = %d", bh.InUse())
	}

	third := cursortest.New(4)
	c := execute(t, third, WithBulkhead(bh))
	if err := c.Open(ctx); err != nil {
		t.Fatalf("Open after slot freed: %v", err)
	}
	c.Close()
	if bh.InUse() != 0 {
		t.Errorf("slot not returned on cancel: in use = %d", bh.InUse())
	}
}

func TestStream_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observability.NewStreamMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	done := execute(t, cursortest.New(1, 2, 3), WithMetrics(m), WithName("sql"), WithTracing(true))
	pipeline.Collect(ctx, done.Pipeline())

	failed := execute(t, cursortest.New(1, 2).FailOn(2, errors.New("x")), WithMetrics(m), WithName("sql"))
	pipeline.Collect(ctx, failed.Pipeline())

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}
	byOutcome := map[string]int64{}
	var rows, active int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch md.Name {
				case observability.MetricStreamSessions:
					o, _ := dp.Attributes.Value(observability.AttrOutcome)
					byOutcome[o.AsString()] += dp.Value
				case observability.MetricStreamRows:
					rows += dp.Value
				case observability.MetricStreamActive:
					active += dp.Value
				}
			}
		}
	}
	if byOutcome["completed"] != 1 || byOutcome["failed"] != 1 {
		t.Errorf("sessions by outcome = %v", byOutcome)
	}
	if rows != 4 {
		t.Errorf("rows = %d, want 4", rows)
	}
	if active != 0 {
		t.Errorf("active = %d, want 0", active)
	}
}
