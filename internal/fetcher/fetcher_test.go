package fetcher

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/checkpoint"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/logging"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/storage"
)

// mockSource serves canned bodies and scripted failures, counting calls.
type mockSource struct {
	mu       sync.Mutex
	bodies   map[string]string
	failures map[string][]error // consumed one per call
	calls    map[string]int
	block    chan struct{} // when set, Open waits on it or ctx
}

func newMockSource() *mockSource {
	return &mockSource{
		bodies:   make(map[string]string),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (m *mockSource) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	m.mu.Lock()
	m.calls[relPath]++
	var err error
	if errs := m.failures[relPath]; len(errs) > 0 {
		err = errs[0]
		m.failures[relPath] = errs[1:]
	}
	body, ok := m.bodies[relPath]
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &argo.TransientNetworkError{URL: relPath, Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &argo.PermanentFetchError{URL: relPath, Attempts: 1, StatusCode: 404}
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m *mockSource) URL(relPath string) string { return "https://example.org/dac/" + relPath }

func (m *mockSource) Close() error { return nil }

func (m *mockSource) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *mockSource) callsFor(p string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[p]
}

// sleepRecorder replaces the backoff sleep.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func rowsFor(paths ...string) []argo.CatalogueRow {
	rows := make([]argo.CatalogueRow, len(paths))
	for i, p := range paths {
		rows[i] = argo.CatalogueRow{Path: p}
	}
	return rows
}

func newTestFetcher(t *testing.T, src *mockSource, ledger checkpoint.Ledger, opts Options) (*Fetcher, *sleepRecorder) {
	t.Helper()
	f := New(src, ledger, opts, logging.Discard())
	rec := &sleepRecorder{}
	f.sleep = rec.sleep
	return f, rec
}

func TestFetchAllDownloadsAndRecordsLedger(t *testing.T) {
	root := t.TempDir()
	src := newMockSource()
	paths := []string{
		"incois/2901234/profiles/R2901234_001.nc",
		"incois/2901234/profiles/R2901234_002.nc",
		"aoml/1900001/profiles/D1900001_010.nc",
	}
	for _, p := range paths {
		src.bodies[p] = "body of " + p
	}

	ledger, err := checkpoint.OpenJSON(filepath.Join(root, "ledger.json"))
	if err != nil {
		t.Fatal(err)
	}
	f, _ := newTestFetcher(t, src, ledger, Options{Workers: 2, Retries: 3, Backoff: time.Millisecond, VerifyExisting: true})

	tasks := NewTasks(rowsFor(paths...), src, root, 0)
	report, err := f.FetchAll(context.Background(), tasks)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if report.Downloaded != 3 || report.Skipped != 0 || len(report.Failed) != 0 {
		t.Fatalf("report = %+v", report)
	}

	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		if string(data) != "body of "+p {
			t.Errorf("%s content = %q", p, data)
		}
		entry, ok, _ := ledger.Lookup(context.Background(), p)
		if !ok || entry.Checksum != storage.ComputeChecksum(data) {
			t.Errorf("ledger entry for %s = %+v (found=%v)", p, entry, ok)
		}
	}
	if len(report.Files()) != 3 {
		t.Errorf("Files() = %v", report.Files())
	}
}

func TestFetchAllSkipsExistingFilesWithoutNetwork(t *testing.T) {
	root := t.TempDir()
	src := newMockSource()
	paths := []string{"incois/1/profiles/R1_001.nc", "incois/1/profiles/R1_002.nc"}
	for _, p := range paths {
		src.bodies[p] = "data " + p
	}
	ledger, _ := checkpoint.OpenJSON(filepath.Join(root, "ledger.json"))
	opts := Options{Workers: 2, Retries: 1, Backoff: time.Millisecond, VerifyExisting: true}

	f, _ := newTestFetcher(t, src, ledger, opts)
	if _, err := f.FetchAll(context.Background(), NewTasks(rowsFor(paths...), src, root, 0)); err != nil {
		t.Fatal(err)
	}
	first := src.totalCalls()

	// Second run: everything verified from disk and ledger.
	f2, _ := newTestFetcher(t, src, ledger, opts)
	report, err := f2.FetchAll(context.Background(), NewTasks(rowsFor(paths...), src, root, 0))
	if err != nil {
		t.Fatal(err)
	}
	if got := src.totalCalls() - first; got != 0 {
		t.Errorf("second run made %d network calls, want 0", got)
	}
	if report.Skipped != 2 || report.Downloaded != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestFetchAllAdoptsUnrecordedFiles(t *testing.T) {
	root := t.TempDir()
	p := "incois/1/profiles/R1_001.nc"
	dest := filepath.Join(root, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, []byte("legacy"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := newMockSource()
	ledger, _ := checkpoint.OpenJSON(filepath.Join(root, "ledger.json"))
	f, _ := newTestFetcher(t, src, ledger, Options{Workers: 1, VerifyExisting: true})

	report, err := f.FetchAll(context.Background(), NewTasks(rowsFor(p), src, root, 0))
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 || src.totalCalls() != 0 {
		t.Errorf("report = %+v, calls = %d", report, src.totalCalls())
	}
	entry, ok, _ := ledger.Lookup(context.Background(), p)
	if !ok || entry.Checksum != storage.ComputeChecksum([]byte("legacy")) {
		t.Errorf("adopted entry = %+v", entry)
	}
}

func TestFetchAllRefetchesCorruptFile(t *testing.T) {
	root := t.TempDir()
	p := "incois/1/profiles/R1_001.nc"
	src := newMockSource()
	src.bodies[p] = "good bytes"
	ledger, _ := checkpoint.OpenJSON(filepath.Join(root, "ledger.json"))
	opts := Options{Workers: 1, VerifyExisting: true}

	f, _ := newTestFetcher(t, src, ledger, opts)
	if _, err := f.FetchAll(context.Background(), NewTasks(rowsFor(p), src, root, 0)); err != nil {
		t.Fatal(err)
	}

	// Same size, different content.
	dest := filepath.Join(root, filepath.FromSlash(p))
	if err := os.WriteFile(dest, []byte("evil bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	f2, _ := newTestFetcher(t, src, ledger, opts)
	report, err := f2.FetchAll(context.Background(), NewTasks(rowsFor(p), src, root, 0))
	if err != nil {
		t.Fatal(err)
	}
	if report.Downloaded != 1 || src.callsFor(p) != 2 {
		t.Errorf("report = %+v, calls = %d", report, src.callsFor(p))
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "good bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestFetchAllRetriesWithExponentialBackoff(t *testing.T) {
	root := t.TempDir()
	p := "incois/1/profiles/R1_001.nc"
	src := newMockSource()
	src.bodies[p] = "never served"
	busy := &argo.TransientNetworkError{URL: p, StatusCode: 503}
	src.failures[p] = []error{busy, busy, busy, busy, busy}

	base := 10 * time.Millisecond
	const retries = 3
	f, rec := newTestFetcher(t, src, nil, Options{Workers: 1, Retries: retries, Backoff: base})

	report, err := f.FetchAll(context.Background(), NewTasks(rowsFor(p), src, root, 0))
	if err != nil {
		t.Fatal(err)
	}

	if got := src.callsFor(p); got != retries+1 {
		t.Errorf("attempts = %d, want %d", got, retries+1)
	}
	if len(rec.delays) != retries {
		t.Fatalf("delays = %v, want %d entries", rec.delays, retries)
	}
	for i, d := range rec.delays {
		if want := base * time.Duration(1<<i); d < want {
			t.Errorf("delay[%d] = %v, want >= %v", i, d, want)
		}
	}

	if len(report.Failed) != 1 {
		t.Fatalf("failed = %v", report.Failed)
	}
	var perm *argo.PermanentFetchError
	if !errors.As(report.Failed[0].Err, &perm) || perm.Attempts != retries+1 {
		t.Errorf("failure error = %v", report.Failed[0].Err)
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(p))); !os.IsNotExist(err) {
		t.Error("failed download left a file behind")
	}
}

func TestFetchAllRecoversAfterTransientFailure(t *testing.T) {
	root := t.TempDir()
	p := "incois/1/profiles/R1_001.nc"
	src := newMockSource()
	src.bodies[p] = "finally"
	src.failures[p] = []error{&argo.TransientNetworkError{URL: p, Err: errors.New("reset")}}

	f, rec := newTestFetcher(t, src, nil, Options{Workers: 1, Retries: 3, Backoff: time.Millisecond})
	report, err := f.FetchAll(context.Background(), NewTasks(rowsFor(p), src, root, 0))
	if err != nil {
		t.Fatal(err)
	}
	if report.Downloaded != 1 || len(rec.delays) != 1 || report.Tasks[0].Attempt != 1 {
		t.Errorf("report = %+v delays = %v", report, rec.delays)
	}
}

func TestFetchAllPermanentErrorFailsImmediately(t *testing.T) {
	root := t.TempDir()
	src := newMockSource() // no body: 404
	p := "incois/1/profiles/R1_404.nc"

	f, rec := newTestFetcher(t, src, nil, Options{Workers: 1, Retries: 3, Backoff: time.Millisecond})
	report, err := f.FetchAll(context.Background(), NewTasks(rowsFor(p), src, root, 0))
	if err != nil {
		t.Fatal(err)
	}
	if src.callsFor(p) != 1 || len(rec.delays) != 0 {
		t.Errorf("calls = %d delays = %v", src.callsFor(p), rec.delays)
	}
	if len(report.Failed) != 1 || report.Tasks[0].State != StateFailed {
		t.Errorf("report = %+v", report)
	}
}

func TestFetchAllCancellation(t *testing.T) {
	root := t.TempDir()
	src := newMockSource()
	src.block = make(chan struct{})
	var paths []string
	for i := 0; i < 20; i++ {
		p := filepath.ToSlash(filepath.Join("incois", "1", "profiles", "R1_"+string(rune('a'+i))+".nc"))
		paths = append(paths, p)
		src.bodies[p] = "x"
	}

	f, _ := newTestFetcher(t, src, nil, Options{Workers: 2, Retries: 0})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan struct{})
	var report Report
	var err error
	go func() {
		report, err = f.FetchAll(ctx, NewTasks(rowsFor(paths...), src, root, 0))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("FetchAll did not return after cancellation")
	}

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if report.Downloaded != 0 {
		t.Errorf("downloaded = %d", report.Downloaded)
	}
	if report.Pending == 0 {
		t.Error("expected pending tasks after cancellation")
	}
	if src.totalCalls() > 2 {
		t.Errorf("calls = %d, want at most one per worker", src.totalCalls())
	}
}

func TestNewTasksLimitAndLayout(t *testing.T) {
	src := newMockSource()
	rows := rowsFor("a/1/profiles/x.nc", "a/1/profiles/x.nc", "a/2/profiles/y.nc", "a/3/profiles/z.nc")

	tasks := NewTasks(rows, src, "/data/raw", 2)
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	if tasks[1].RelPath != "a/2/profiles/y.nc" {
		t.Errorf("duplicate not removed: %+v", tasks)
	}
	if tasks[0].Dest != filepath.Join("/data/raw", "a", "1", "profiles", "x.nc") {
		t.Errorf("dest = %s", tasks[0].Dest)
	}
	if tasks[0].URL != "https://example.org/dac/a/1/profiles/x.nc" {
		t.Errorf("url = %s", tasks[0].URL)
	}

	if all := NewTasks(rows, src, "/data/raw", 0); len(all) != 3 {
		t.Errorf("limit 0 gave %d tasks", len(all))
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StatePending: "pending", StateInFlight: "in_flight", StateDone: "done", StateFailed: "failed",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q", s, s.String())
		}
	}
}
