package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/yuya-takeyama/manifest-sync/pkg/fingerprint"
	"github.com/yuya-takeyama/manifest-sync/pkg/logger"
	"github.com/yuya-takeyama/manifest-sync/pkg/manifest"
	"github.com/yuya-takeyama/manifest-sync/pkg/origin"
	"github.com/yuya-takeyama/manifest-sync/pkg/planner"
	"github.com/yuya-takeyama/manifest-sync/pkg/progress"
)

func sha1Of(t *testing.T, s string) string {
	t.Helper()
	sum, err := fingerprint.SHA1(strings.NewReader(s))
	if err != nil {
		t.Fatal(err)
	}
	return sum
}

// fileServer serves files and records the order paths were requested in.
type fileServer struct {
	mu       sync.Mutex
	files    map[string]string
	truncate map[string]int
	requests []string
}

func (s *fileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	s.mu.Lock()
	s.requests = append(s.requests, name)
	s.mu.Unlock()

	content, ok := s.files[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Length", fmt.Sprint(len(content)))
	if n, cut := s.truncate[name]; cut {
		// Promise the full length but hang up early.
		_, _ = io.WriteString(w, content[:n])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		panic(http.ErrAbortHandler)
	}
	_, _ = io.WriteString(w, content)
}

func (s *fileServer) requested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func newServer(t *testing.T, fs *fileServer) origin.Origin {
	t.Helper()
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	o, err := origin.NewHTTPOrigin(srv.URL, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func buildPlan(t *testing.T, root string, files map[string]string, order ...string) (*planner.Plan, *manifest.Group) {
	t.Helper()
	group := &manifest.Group{Name: manifest.GroupGame}
	for _, name := range order {
		group.Entries = append(group.Entries, manifest.Entry{
			TargetPath:     name,
			DownloadSource: name,
			ExpectedSize:   int64(len(files[name])),
			ExpectedHash:   sha1Of(t, files[name]),
		})
	}
	plan, err := planner.NewDiffPlanner(nil).Plan(context.Background(), group, planner.Options{ReferenceRoot: root})
	if err != nil {
		t.Fatal(err)
	}
	return plan, group
}

// recorder is an Observer that keeps every event.
type recorder struct {
	progress  []progress.Progress
	done      []string
	failed    []*ItemError
	cancelled []string
}

func (r *recorder) Progress(p progress.Progress) { r.progress = append(r.progress, p) }
func (r *recorder) ItemDone(item planner.Item, p progress.Progress) {
	r.done = append(r.done, item.Entry.TargetPath)
}
func (r *recorder) ItemFailed(err *ItemError) { r.failed = append(r.failed, err) }
func (r *recorder) ItemCancelled(item planner.Item) {
	r.cancelled = append(r.cancelled, item.Entry.TargetPath)
}

func TestRunDownloadsThenRediffIsEmpty(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{"a.txt": "hello"}
	fs := &fileServer{files: files}

	plan, group := buildPlan(t, root, files, "a.txt")
	if len(plan.Items) != 1 {
		t.Fatalf("plan items = %d, want 1", len(plan.Items))
	}

	rec := &recorder{}
	result := NewExecutor(newServer(t, fs), logger.NullLogger{}, time.Second).Run(context.Background(), plan, rec)
	if err := result.Err(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.BytesTransferred != 5 {
		t.Errorf("BytesTransferred = %d, want 5", result.BytesTransferred)
	}
	if diff := cmp.Diff([]string{"a.txt"}, rec.done); diff != "" {
		t.Errorf("ItemDone mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	if err != nil || string(data) != "hello" {
		t.Fatalf("a.txt = %q, %v", data, err)
	}

	again, err := planner.NewDiffPlanner(nil).Plan(context.Background(), group, planner.Options{ReferenceRoot: root})
	if err != nil {
		t.Fatal(err)
	}
	if !again.Empty() {
		t.Errorf("re-diff after run planned %d items", len(again.Items))
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"a.txt": "first file",
		"b.txt": strings.Repeat("b", 100_000),
		"c.txt": "third file",
	}
	fs := &fileServer{files: files, truncate: map[string]int{"b.txt": 40_000}}

	plan, _ := buildPlan(t, root, files, "a.txt", "b.txt", "c.txt")

	rec := &recorder{}
	result := NewExecutor(newServer(t, fs), nil, time.Second).Run(context.Background(), plan, rec)

	if result.Failed == nil {
		t.Fatal("expected item 2 to fail")
	}
	if result.Failed.Index != 1 || result.Failed.Item.Entry.TargetPath != "b.txt" {
		t.Errorf("Failed = %v (index %d), want b.txt at index 1", result.Failed, result.Failed.Index)
	}
	if !errors.Is(result.Err(), ErrDownload) {
		t.Errorf("Err() = %v, want ErrDownload", result.Err())
	}
	if result.Cancelled {
		t.Error("a failure must not be reported as cancelled")
	}

	if diff := cmp.Diff([]string{"a.txt", "b.txt"}, fs.requested()); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a.txt"}, rec.done); diff != "" {
		t.Errorf("ItemDone mismatch (-want +got):\n%s", diff)
	}
	if len(rec.failed) != 1 {
		t.Errorf("ItemFailed calls = %d, want 1", len(rec.failed))
	}

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	if err != nil || string(data) != "first file" {
		t.Errorf("a.txt = %q, %v; want intact", data, err)
	}
	if _, err := os.Stat(filepath.Join(root, "b.txt"+PartialSuffix)); err != nil {
		t.Errorf("partial b.txt should be left on disk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "b.txt")); !os.IsNotExist(err) {
		t.Errorf("unverified b.txt must not replace its destination, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "c.txt")); !os.IsNotExist(err) {
		t.Errorf("c.txt must not exist, stat err = %v", err)
	}
	if result.Progress.ItemsCompleted != 1 {
		t.Errorf("ItemsCompleted = %d, want 1", result.Progress.ItemsCompleted)
	}
}

func TestRunProgressIsMonotonic(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"one.bin":   strings.Repeat("1", 70_000),
		"two.bin":   strings.Repeat("2", 10),
		"three.bin": strings.Repeat("3", 200_000),
	}
	fs := &fileServer{files: files}
	plan, _ := buildPlan(t, root, files, "one.bin", "two.bin", "three.bin")

	rec := &recorder{}
	result := NewExecutor(newServer(t, fs), nil, time.Second).Run(context.Background(), plan, rec)
	if err := result.Err(); err != nil {
		t.Fatal(err)
	}

	last := -1
	var lastBytes int64 = -1
	for _, p := range rec.progress {
		if p.Percent() < last || p.BytesCompleted < lastBytes {
			t.Fatalf("progress went backwards: %d%% after %d%%", p.Percent(), last)
		}
		if p.Percent() > 100 {
			t.Fatalf("progress above 100: %d", p.Percent())
		}
		last, lastBytes = p.Percent(), p.BytesCompleted
	}
	final := result.Progress
	if final.Percent() != 100 || final.ItemsCompleted != 3 || final.BytesCompleted != plan.TotalBytes {
		t.Errorf("final progress = %+v", final)
	}
}

func TestRunCreatesManifestDirectories(t *testing.T) {
	root := t.TempDir()
	plan := &planner.Plan{
		Directories: []string{filepath.Join(root, "maps"), filepath.Join(root, "saves", "slots")},
		Items:       []planner.Item{},
	}

	result := NewExecutor(nil, nil, 0).Run(context.Background(), plan, nil)
	if err := result.Err(); err != nil {
		t.Fatal(err)
	}
	for _, dir := range plan.Directories {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created: %v", dir, err)
		}
	}

	// Existing directories are not an error.
	if err := NewExecutor(nil, nil, 0).Run(context.Background(), plan, nil).Err(); err != nil {
		t.Errorf("second run error = %v", err)
	}
}

func TestRunEmptyPlan(t *testing.T) {
	result := NewExecutor(nil, nil, 0).Run(context.Background(), &planner.Plan{}, nil)
	if err := result.Err(); err != nil {
		t.Fatal(err)
	}
	if result.Progress.Percent() != 0 || result.Progress.BytesTotal != 0 {
		t.Errorf("Progress = %+v", result.Progress)
	}
}

func TestRunChecksumMismatch(t *testing.T) {
	root := t.TempDir()
	fs := &fileServer{files: map[string]string{"a.txt": "jello"}}
	plan, _ := buildPlan(t, root, map[string]string{"a.txt": "hello"}, "a.txt")

	result := NewExecutor(newServer(t, fs), nil, time.Second).Run(context.Background(), plan, nil)
	if !errors.Is(result.Err(), ErrChecksumMismatch) || !errors.Is(result.Err(), ErrDownload) {
		t.Errorf("Err() = %v, want ErrChecksumMismatch", result.Err())
	}
}

func TestRunFailureKeepsExistingFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("old!!"), 0o644); err != nil {
		t.Fatal(err)
	}
	fs := &fileServer{files: map[string]string{"a.txt": "jello"}}
	plan, _ := buildPlan(t, root, map[string]string{"a.txt": "hello"}, "a.txt")
	if len(plan.Items) != 1 {
		t.Fatalf("plan items = %d, want 1", len(plan.Items))
	}

	result := NewExecutor(newServer(t, fs), nil, time.Second).Run(context.Background(), plan, nil)
	if !errors.Is(result.Err(), ErrChecksumMismatch) {
		t.Fatalf("Err() = %v, want ErrChecksumMismatch", result.Err())
	}
	if data, _ := os.ReadFile(filepath.Join(root, "a.txt")); string(data) != "old!!" {
		t.Errorf("a.txt = %q, must stay untouched after a failed download", data)
	}
	if data, _ := os.ReadFile(filepath.Join(root, "a.txt"+PartialSuffix)); string(data) != "jello" {
		t.Errorf("a.txt%s = %q", PartialSuffix, data)
	}
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "blocker"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := EnsureDirectories([]string{filepath.Join(root, "a", "b")}); err != nil {
		t.Fatalf("EnsureDirectories() error = %v", err)
	}
	err := EnsureDirectories([]string{filepath.Join(root, "blocker", "c")})
	if err == nil || !errors.Is(err, ErrLocalIO) || err.Index != -1 {
		t.Errorf("EnsureDirectories() error = %v, want ErrLocalIO at index -1", err)
	}
}

func TestRunOversizedBody(t *testing.T) {
	root := t.TempDir()
	fs := &fileServer{files: map[string]string{"a.txt": "hello, world"}}
	plan, _ := buildPlan(t, root, map[string]string{"a.txt": "hello"}, "a.txt")

	result := NewExecutor(newServer(t, fs), nil, time.Second).Run(context.Background(), plan, nil)
	if !errors.Is(result.Err(), ErrSizeMismatch) {
		t.Errorf("Err() = %v, want ErrSizeMismatch", result.Err())
	}
}

func TestRunNotFound(t *testing.T) {
	root := t.TempDir()
	fs := &fileServer{files: map[string]string{}}
	plan, _ := buildPlan(t, root, map[string]string{"gone.txt": "hello"}, "gone.txt")

	result := NewExecutor(newServer(t, fs), nil, time.Second).Run(context.Background(), plan, nil)
	if !errors.Is(result.Err(), origin.ErrNotFound) || !errors.Is(result.Err(), ErrDownload) {
		t.Errorf("Err() = %v, want ErrNotFound wrapped in ErrDownload", result.Err())
	}
}

func TestRunLocalIOError(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "blocker"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{"a.txt": "hello"}
	fs := &fileServer{files: files}
	plan := &planner.Plan{
		Items: []planner.Item{{
			Entry:         manifest.Entry{TargetPath: "blocker/a.txt", ExpectedSize: 5, ExpectedHash: sha1Of(t, "hello")},
			Source:        "a.txt",
			Destination:   filepath.Join(root, "blocker", "a.txt"),
			BytesExpected: 5,
		}},
		TotalBytes: 5,
	}

	result := NewExecutor(newServer(t, fs), nil, time.Second).Run(context.Background(), plan, nil)
	if !errors.Is(result.Err(), ErrLocalIO) {
		t.Errorf("Err() = %v, want ErrLocalIO", result.Err())
	}
	if len(fs.requested()) != 0 {
		t.Errorf("origin should not be contacted, got %v", fs.requested())
	}
}

// stallOrigin sends head and then blocks until the request context ends.
type stallOrigin struct {
	head string
}

func (o stallOrigin) String() string { return "stall://" }

func (o stallOrigin) Get(ctx context.Context, name string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (o stallOrigin) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	return io.NopCloser(&stallReader{ctx: ctx, head: o.head}), -1, nil
}

type stallReader struct {
	ctx  context.Context
	head string
	sent bool
}

func (r *stallReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, r.head), nil
	}
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func TestRunIdleTimeout(t *testing.T) {
	root := t.TempDir()
	plan, _ := buildPlan(t, root, map[string]string{"a.txt": "hello"}, "a.txt")

	rec := &recorder{}
	result := NewExecutor(stallOrigin{head: "he"}, nil, 50*time.Millisecond).Run(context.Background(), plan, rec)

	if !errors.Is(result.Err(), ErrIdleTimeout) {
		t.Fatalf("Err() = %v, want ErrIdleTimeout", result.Err())
	}
	if result.Cancelled {
		t.Error("idle timeout is a failure, not a cancellation")
	}
	if len(rec.failed) != 1 {
		t.Errorf("ItemFailed calls = %d, want 1", len(rec.failed))
	}
}

func TestRunCancelled(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{"a.txt": "hello", "b.txt": "world"}
	plan, _ := buildPlan(t, root, files, "a.txt", "b.txt")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	obs := ObserverFuncs{
		OnProgress: func(p progress.Progress) {
			if p.BytesCompleted > 0 {
				cancel()
			}
			rec.Progress(p)
		},
		OnItemFailed:    rec.ItemFailed,
		OnItemCancelled: rec.ItemCancelled,
	}

	result := NewExecutor(stallOrigin{head: "he"}, nil, 0).Run(ctx, plan, obs)

	if !result.Cancelled {
		t.Fatal("expected Cancelled")
	}
	if !errors.Is(result.Err(), ErrCancelled) || !errors.Is(result.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want ErrCancelled wrapping context.Canceled", result.Err())
	}
	if result.Failed != nil {
		t.Errorf("cancelled run reported failure %v", result.Failed)
	}
	if diff := cmp.Diff([]string{"a.txt"}, rec.cancelled); diff != "" {
		t.Errorf("ItemCancelled mismatch (-want +got):\n%s", diff)
	}
	if len(rec.failed) != 0 {
		t.Errorf("ItemFailed calls = %d, want 0", len(rec.failed))
	}
}
