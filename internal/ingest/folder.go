package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FolderOptions controls ingest-folder behavior.
type FolderOptions struct {
	Dir      string
	Watch    bool
	Patterns []string // e.g. []string{"*.txt", "*.jsonl"}
	Logger   *zap.SugaredLogger
	// When true and in Watch mode, start files at EOF on startup to avoid
	// re-running existing lines each time the app starts.
	TailFromEnd bool
	// OnOutcome, when set, is called for every finished lookup.
	OnOutcome func(Outcome)
}

// FolderIngestor looks up IOC lists dropped into a directory (one-shot or watch mode).
type FolderIngestor struct {
	runner *Runner
	opts   FolderOptions

	mu      sync.Mutex // guards the fields below
	offsets map[string]int64
	summary Summary
	errors  int
}

// NewFolderIngestor constructs a folder ingestor.
func NewFolderIngestor(runner *Runner, opts FolderOptions) *FolderIngestor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = []string{"*.txt", "*.jsonl", "*.csv"}
	}
	return &FolderIngestor{
		runner:  runner,
		opts:    opts,
		offsets: make(map[string]int64),
	}
}

// Summary returns the running totals.
func (fi *FolderIngestor) Summary() Summary {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	out := Summary{Total: fi.summary.Total, Failed: fi.summary.Failed, Verdicts: make(map[string]int)}
	for k, v := range fi.summary.Verdicts {
		out.Verdicts[k] = v
	}
	return out
}

// Errors counts unreadable files and unparsable lines seen so far.
func (fi *FolderIngestor) Errors() int {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.errors
}

func (fi *FolderIngestor) addError() {
	fi.mu.Lock()
	fi.errors++
	fi.mu.Unlock()
}

// Run executes the ingestion per options (one-shot or watch).
func (fi *FolderIngestor) Run(ctx context.Context) error {
	if err := fi.scanOnce(ctx); err != nil {
		return err
	}
	if !fi.opts.Watch {
		s := fi.Summary()
		fi.opts.Logger.Infof("Completed one-shot ingest: looked up=%d failed=%d errors=%d", s.Total, s.Failed, fi.Errors())
		return nil
	}
	return fi.watchLoop(ctx)
}

func (fi *FolderIngestor) matches(name string) bool {
	lower := strings.ToLower(name)
	for _, pat := range fi.opts.Patterns {
		p := strings.TrimSpace(strings.ToLower(pat))
		if ok, _ := filepath.Match(p, lower); ok {
			return true
		}
	}
	return false
}

func (fi *FolderIngestor) scanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(fi.opts.Dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !fi.matches(e.Name()) {
			continue
		}
		path := filepath.Join(fi.opts.Dir, e.Name())
		if fi.opts.Watch && fi.opts.TailFromEnd {
			if st, err := os.Stat(path); err == nil {
				fi.setOffset(path, st.Size())
			}
			continue
		}
		if err := fi.tail(ctx, path); err != nil {
			fi.opts.Logger.Warnf("error processing %s: %v", path, err)
			fi.addError()
		}
	}
	return nil
}

func (fi *FolderIngestor) watchLoop(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer w.Close()

	if err := w.Add(fi.opts.Dir); err != nil {
		return fmt.Errorf("watch add: %w", err)
	}
	fi.opts.Logger.Infof("Watching directory: %s (patterns: %s)", fi.opts.Dir, strings.Join(fi.opts.Patterns, ","))

	for {
		select {
		case <-ctx.Done():
			s := fi.Summary()
			fi.opts.Logger.Infof("Watch stopping: looked up=%d failed=%d errors=%d", s.Total, s.Failed, fi.Errors())
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !fi.matches(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if err := fi.tail(ctx, ev.Name); err != nil && !errors.Is(err, context.Canceled) {
					fi.opts.Logger.Warnf("error tailing %s: %v", ev.Name, err)
					fi.addError()
				}
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				fi.mu.Lock()
				delete(fi.offsets, ev.Name)
				fi.mu.Unlock()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fi.opts.Logger.Warnf("watch error: %v", err)
		}
	}
}

func (fi *FolderIngestor) setOffset(path string, off int64) {
	fi.mu.Lock()
	fi.offsets[path] = off
	fi.mu.Unlock()
}

// tail looks up every complete line of path past its stored offset.
func (fi *FolderIngestor) tail(ctx context.Context, path string) error {
	fi.mu.Lock()
	offset := fi.offsets[path]
	fi.mu.Unlock()

	items, next, err := readFrom(path, offset, fi.opts.Watch, func(line int, err error) {
		fi.opts.Logger.Warnf("parse error in %s: %v", path, err)
		fi.addError()
	})
	if err != nil {
		return err
	}
	fi.setOffset(path, next)
	if len(items) == 0 {
		return nil
	}

	outcomes := fi.runner.Run(ctx, items)
	fi.mu.Lock()
	fi.summary.Add(outcomes...)
	fi.mu.Unlock()
	if fi.opts.OnOutcome != nil {
		for _, o := range outcomes {
			fi.opts.OnOutcome(o)
		}
	}
	return ctx.Err()
}

// readFrom parses lines of path starting at offset. With completeOnly set, a
// trailing line without newline is left for the next read since the writer
// may still be appending to it.
func readFrom(path string, offset int64, completeOnly bool, onError func(int, error)) ([]Item, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		// File might be transiently missing (rename/rotate)
		return nil, offset, err
	}
	defer f.Close()

	if st, err := f.Stat(); err == nil && st.Size() < offset {
		// Truncated; start over
		offset = 0
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, offset, err
		}
	}

	var items []Item
	r := bufio.NewReader(f)
	n := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return items, offset, err
		}
		complete := strings.HasSuffix(line, "\n")
		if line == "" || (!complete && completeOnly) {
			return items, offset, nil
		}
		offset += int64(len(line))
		n++
		item, ok, perr := ParseLine(line)
		switch {
		case perr != nil:
			if onError != nil {
				onError(n, perr)
			}
		case ok:
			items = append(items, item)
		}
		if !complete {
			return items, offset, nil
		}
	}
}
