// Package fetcher mirrors profile files from the archive with a bounded
// worker pool, explicit retries and digest-verified resumability.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/checkpoint"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/logging"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/metrics"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/source"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/storage"
)

// Options tunes the fetcher.
type Options struct {
	Workers        int           // concurrent downloads (default 10)
	Retries        int           // retries after the first attempt (default 3)
	Backoff        time.Duration // base delay, doubled per attempt (default 1s)
	Timeout        time.Duration // per-attempt deadline (default 30s)
	VerifyExisting bool          // check existing files against the ledger
}

// Fetcher implements the dispatcher → workers → collector flow.
type Fetcher struct {
	src    source.Source
	ledger checkpoint.Ledger
	opts   Options
	log    *slog.Logger

	sleep    func(ctx context.Context, d time.Duration) error
	inFlight atomic.Int64
}

// New creates a fetcher. A nil ledger disables resumability checks beyond
// file existence.
func New(src source.Source, ledger checkpoint.Ledger, opts Options, logger *slog.Logger) *Fetcher {
	if opts.Workers < 1 {
		opts.Workers = 10
	}
	if opts.Retries < 0 {
		opts.Retries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if ledger == nil {
		ledger, _ = checkpoint.New(checkpoint.Config{Backend: "none"})
	}
	if logger == nil {
		logger = logging.Component("fetcher")
	}

	return &Fetcher{
		src:    src,
		ledger: ledger,
		opts:   opts,
		log:    logger,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchAll downloads every task. Per-task failures are collected in the
// report; the returned error is non-nil only when ctx was cancelled, in
// which case the report covers the tasks finished so far.
func (f *Fetcher) FetchAll(ctx context.Context, tasks []Task) (Report, error) {
	start := time.Now()
	report := Report{Tasks: make([]Task, len(tasks))}
	copy(report.Tasks, tasks)
	for i := range report.Tasks {
		report.Tasks[i].Index = i
		report.Tasks[i].State = StatePending
	}

	if len(tasks) == 0 {
		return report, nil
	}

	workers := min(f.opts.Workers, len(tasks))
	f.log.Info("starting fetch", "files", len(tasks), "workers", workers, "retries", f.opts.Retries)

	queue := make(chan Task, workers*2)
	results := make(chan result, workers*2)

	// Start worker pool
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go f.workerLoop(ctx, i, queue, results, &wg)
	}

	// Start dispatcher
	go f.dispatcherLoop(ctx, report.Tasks, queue)

	// Close results when workers finish
	go func() {
		wg.Wait()
		close(results)
	}()

	f.collect(results, &report)

	if err := f.ledger.Flush(context.WithoutCancel(ctx)); err != nil {
		f.log.Error("flush fetch ledger", "error", err)
	}

	report.Duration = time.Since(start)
	for _, t := range report.Tasks {
		if t.State == StatePending {
			report.Pending++
		}
	}

	f.log.Info("fetch complete",
		"downloaded", report.Downloaded,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
		"pending", report.Pending,
		"bytes", report.Bytes,
		"duration", report.Duration.Round(time.Millisecond),
	)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// dispatcherLoop sends tasks to workers until done or cancelled.
func (f *Fetcher) dispatcherLoop(ctx context.Context, tasks []Task, queue chan<- Task) {
	defer close(queue)

	for _, t := range tasks {
		select {
		case <-ctx.Done():
			return
		case queue <- t:
		}
	}
}

// workerLoop processes tasks from the queue.
func (f *Fetcher) workerLoop(ctx context.Context, workerID int, queue <-chan Task, results chan<- result, wg *sync.WaitGroup) {
	defer wg.Done()
	log := logging.WorkerLogger(f.log, workerID)

	for task := range queue {
		if ctx.Err() != nil {
			// Leave the task pending; drain so the dispatcher can exit.
			continue
		}
		results <- f.processTask(ctx, log, task)
	}
}

// collect records worker results in the report until the channel closes.
func (f *Fetcher) collect(results <-chan result, report *Report) {
	m := metrics.Get()
	for res := range results {
		t := res.task
		report.Tasks[t.Index] = t

		switch {
		case t.State == StateDone && t.Skipped:
			report.Skipped++
			if m != nil {
				m.IncFilesSkipped()
			}
		case t.State == StateDone:
			report.Downloaded++
			report.Bytes += res.bytes
		case t.State == StateFailed:
			report.Failed = append(report.Failed, Failure{URL: t.URL, Err: t.Err})
			if m != nil {
				reason := "transient"
				var perm *argo.PermanentFetchError
				if errors.As(t.Err, &perm) && perm.StatusCode != 0 {
					reason = fmt.Sprintf("status_%d", perm.StatusCode)
				}
				m.IncFilesFailed(reason)
			}
		}
	}
}

// processTask resolves one task to Done, Failed or (on cancellation) Pending.
func (f *Fetcher) processTask(ctx context.Context, log *slog.Logger, task Task) result {
	log = log.With("file", task.RelPath)
	task.State = StateInFlight

	if ok := f.existingIsValid(ctx, log, task); ok {
		task.State = StateDone
		task.Skipped = true
		return result{task: task}
	}

	m := metrics.Get()
	n := f.inFlight.Add(1)
	if m != nil {
		m.SetInFlight(float64(n))
	}
	defer func() {
		n := f.inFlight.Add(-1)
		if m != nil {
			m.SetInFlight(float64(n))
		}
	}()

	for task.Attempt = 0; ; task.Attempt++ {
		started := time.Now()
		res, err := f.download(ctx, task)
		if err == nil {
			entry := checkpoint.Entry{
				Key:       task.RelPath,
				URL:       task.URL,
				Checksum:  res.Checksum,
				Size:      res.Size,
				FetchedAt: time.Now().UTC(),
			}
			if err := f.ledger.Record(ctx, entry); err != nil {
				log.Warn("record fetch ledger", "error", err)
			}
			if m != nil {
				m.IncFilesFetched(res.Size, time.Since(started))
			}
			log.Debug("file downloaded", "attempt", task.Attempt+1, "bytes", res.Size)
			task.State = StateDone
			return result{task: task, bytes: res.Size}
		}

		if ctx.Err() != nil {
			task.State = StatePending
			task.Err = ctx.Err()
			return result{task: task}
		}

		var perm *argo.PermanentFetchError
		if errors.As(err, &perm) {
			perm.Attempts = task.Attempt + 1
			log.Warn("download failed permanently", "attempt", task.Attempt+1, "error", err)
			task.State = StateFailed
			task.Err = err
			return result{task: task}
		}

		if task.Attempt >= f.opts.Retries {
			log.Warn("download failed, retries exhausted", "attempts", task.Attempt+1, "error", err)
			task.State = StateFailed
			task.Err = &argo.PermanentFetchError{URL: task.URL, Attempts: task.Attempt + 1, Err: err}
			return result{task: task}
		}

		backoff := f.opts.Backoff * time.Duration(1<<task.Attempt)
		log.Warn("download failed, retrying", "attempt", task.Attempt+1, "backoff", backoff, "error", err)
		if m != nil {
			m.IncRetryAttempts("fetch")
		}
		if err := f.sleep(ctx, backoff); err != nil {
			task.State = StatePending
			task.Err = err
			return result{task: task}
		}
	}
}

// existingIsValid reports whether the destination already holds the file.
// It never touches the network.
func (f *Fetcher) existingIsValid(ctx context.Context, log *slog.Logger, task Task) bool {
	info, err := os.Stat(task.Dest)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if !f.opts.VerifyExisting {
		return true
	}

	entry, found, err := f.ledger.Lookup(ctx, task.RelPath)
	if err != nil {
		log.Warn("lookup fetch ledger", "error", err)
		return false
	}

	if found && entry.Size != info.Size() {
		log.Warn("existing file size mismatch, refetching", "want", entry.Size, "have", info.Size())
		return false
	}

	sum, size, err := storage.FileChecksum(task.Dest)
	if err != nil {
		log.Warn("hash existing file", "error", err)
		return false
	}

	if found {
		if sum != entry.Checksum {
			log.Warn("existing file checksum mismatch, refetching", "want", entry.Checksum, "have", sum)
			return false
		}
		return true
	}

	// Adopt a file fetched before the ledger existed.
	adopted := checkpoint.Entry{
		Key:       task.RelPath,
		URL:       task.URL,
		Checksum:  sum,
		Size:      size,
		FetchedAt: info.ModTime().UTC(),
	}
	if err := f.ledger.Record(ctx, adopted); err != nil {
		log.Warn("record adopted file", "error", err)
	}
	return true
}

// readTracker remembers whether a copy failed on the read side.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

// download performs one attempt under the per-attempt timeout.
func (f *Fetcher) download(ctx context.Context, task Task) (storage.FileResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	body, err := f.src.Open(attemptCtx, task.RelPath)
	if err != nil {
		return storage.FileResult{}, err
	}
	defer body.Close()

	tracker := &readTracker{r: body}
	res, err := storage.WriteFileAtomic(task.Dest, tracker)
	if err != nil {
		if tracker.err != nil {
			return storage.FileResult{}, &argo.TransientNetworkError{URL: task.URL, Err: tracker.err}
		}
		return storage.FileResult{}, &argo.PermanentFetchError{URL: task.URL, Err: err}
	}
	return res, nil
}
