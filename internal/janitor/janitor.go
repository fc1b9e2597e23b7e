// Package janitor periodically sweeps completed run artifacts past their
// retention window: the response message file and every "cast" working
// directory it superseded.
package janitor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tabsdata/tdworker/internal/logging"
	"github.com/tabsdata/tdworker/internal/metrics"
	"github.com/tabsdata/tdworker/internal/store"
	"github.com/tabsdata/tdworker/internal/tdid"
)

// Config parameterizes a TaskRunner.
type Config struct {
	InstanceRoot string
	Frequency    time.Duration
	Retention    time.Duration
	PerRunLimit  int
}

var messageFileRe = regexp.MustCompile(`^([0-9a-v]{1,26})_(\d+)\.yaml$`)

// message is one parsed entry under msg/complete/, ordered first by
// its id (whose high bits are the embedded timestamp), then by its
// sequence number.
type message struct {
	path     string
	id       tdid.ID
	idStr    string
	sequence int
	created  time.Time
}

// TaskRunner runs the sweep loop on a ticker, same shape as the
// teacher's worker-pool/cleanup-loop pattern: a ticker plus a stop
// channel, with a WaitGroup drained on shutdown.
type TaskRunner struct {
	cfg   Config
	store *store.Store

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a TaskRunner. store may be nil, in which case sweep audit
// rows are not persisted (useful for tests or a store-less deployment).
func New(cfg Config, st *store.Store) *TaskRunner {
	return &TaskRunner{cfg: cfg, store: st, stopCh: make(chan struct{})}
}

// Start begins the periodic sweep loop in a background goroutine.
func (tr *TaskRunner) Start() {
	tr.wg.Add(1)
	go func() {
		defer tr.wg.Done()
		ticker := time.NewTicker(tr.cfg.Frequency)
		defer ticker.Stop()
		for {
			select {
			case <-tr.stopCh:
				return
			case <-ticker.C:
				tr.runTick(context.Background())
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it to drain.
func (tr *TaskRunner) Stop() {
	close(tr.stopCh)
	tr.wg.Wait()
}

func (tr *TaskRunner) runTick(ctx context.Context) {
	started := time.Now()
	deletions, errs := tr.Sweep(ctx)
	finished := time.Now()

	metrics.Global().RecordJanitorTick(int64(deletions), int64(errs))
	if tr.store != nil {
		rec := store.SweepRecord{StartedAt: started, FinishedAt: finished, Deletions: deletions, Errors: errs}
		if err := tr.store.RecordSweep(ctx, rec); err != nil {
			logging.Op().Warn("janitor: failed to record sweep", "error", err)
		}
	}
	logging.Op().Info("janitor tick complete", "deletions", deletions, "errors", errs, "duration_ms", finished.Sub(started).Milliseconds())
}

// completeMessagesDir and castWorkDir are two separate trees under
// <instance_root>/workspace/work/, matching the persisted state layout:
// completed messages live under msg/complete/, their per-attempt cast
// working directories under proc/ephemeral/function/work/cast/.
func completeMessagesDir(instanceRoot string) string {
	return filepath.Join(instanceRoot, "workspace", "work", "msg", "complete")
}

func castWorkDir(instanceRoot string) string {
	return filepath.Join(instanceRoot, "workspace", "work", "proc", "ephemeral", "function", "work", "cast")
}

// Sweep runs one pass: enumerate msg/complete/*.yaml files older than
// Retention, in (id, sequence) order, deleting each along with its
// superseded cast working directories, stopping after PerRunLimit
// deletions. Deletion is idempotent: a file already gone is not an
// error. Per-file failures are logged and skipped rather than aborting
// the tick.
func (tr *TaskRunner) Sweep(ctx context.Context) (deletions, errorCount int) {
	completeDir := completeMessagesDir(tr.cfg.InstanceRoot)
	messages, err := listMessages(completeDir)
	if err != nil {
		logging.Op().Warn("janitor: list messages", "dir", completeDir, "error", err)
		return 0, 1
	}

	now := time.Now()
	for _, m := range messages {
		if deletions >= tr.cfg.PerRunLimit {
			break
		}
		if now.Sub(m.created) <= tr.cfg.Retention {
			continue
		}
		if err := tr.deleteMessage(m); err != nil {
			logging.Op().Warn("janitor: delete failed", "path", m.path, "error", err)
			errorCount++
			continue
		}
		deletions++
	}
	return deletions, errorCount
}

func (tr *TaskRunner) deleteMessage(m message) error {
	castRoot := castWorkDir(tr.cfg.InstanceRoot)
	for n := 0; n <= m.sequence; n++ {
		castDir := filepath.Join(castRoot, fmt.Sprintf("%s_%d", m.idStr, n))
		if err := os.RemoveAll(castDir); err != nil {
			return fmt.Errorf("remove cast dir %s: %w", castDir, err)
		}
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove message %s: %w", m.path, err)
	}
	return nil
}

func listMessages(dir string) ([]message, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []message
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m, ok := parseMessage(dir, e.Name())
		if !ok {
			continue
		}
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].id[:], out[j].id[:]); c != 0 {
			return c < 0
		}
		return out[i].sequence < out[j].sequence
	})
	return out, nil
}

func parseMessage(dir, name string) (message, bool) {
	sub := messageFileRe.FindStringSubmatch(name)
	if sub == nil {
		return message{}, false
	}
	id, _, ts, err := tdid.Decode(sub[1])
	if err != nil {
		return message{}, false
	}
	seq, err := strconv.Atoi(sub[2])
	if err != nil {
		return message{}, false
	}
	return message{
		path:     filepath.Join(dir, name),
		id:       id,
		idStr:    sub[1],
		sequence: seq,
		created:  ts,
	}, true
}
