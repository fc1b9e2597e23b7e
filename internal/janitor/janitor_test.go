package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tabsdata/tdworker/internal/tdid"
)

// writeCompletedMessage seeds a completed message and its cast working
// directories under two separate trees, matching the persisted state
// layout (msg/complete/ and proc/ephemeral/function/work/cast/ are not
// co-located). Returns the message path and the list of cast dirs.
func writeCompletedMessage(t *testing.T, root string, ageOffset time.Duration, sequence int) (string, []string) {
	t.Helper()
	id, err := tdid.New()
	if err != nil {
		t.Fatalf("tdid.New: %v", err)
	}
	idStr := id.String()

	var castDirs []string
	for n := 0; n <= sequence; n++ {
		castDir := filepath.Join(castWorkDir(root), idStr+"_"+itoa(n))
		if err := os.MkdirAll(castDir, 0755); err != nil {
			t.Fatalf("mkdir cast dir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(castDir, "marker"), []byte("x"), 0644); err != nil {
			t.Fatalf("write marker: %v", err)
		}
		castDirs = append(castDirs, castDir)
	}

	completeDir := completeMessagesDir(root)
	if err := os.MkdirAll(completeDir, 0755); err != nil {
		t.Fatalf("mkdir complete dir: %v", err)
	}
	msgPath := filepath.Join(completeDir, idStr+"_"+itoa(sequence)+".yaml")
	if err := os.WriteFile(msgPath, []byte("output: []\n"), 0644); err != nil {
		t.Fatalf("write message: %v", err)
	}
	return msgPath, castDirs
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestSweepDeletesOldMessageAndCastDirs(t *testing.T) {
	root := t.TempDir()
	msgPath, castDirs := writeCompletedMessage(t, root, 0, 2)

	tr := New(Config{InstanceRoot: root, Retention: -time.Second, PerRunLimit: 100}, nil)
	deletions, errs := tr.Sweep(context.Background())
	if errs != 0 {
		t.Fatalf("expected 0 errors, got %d", errs)
	}
	if deletions != 1 {
		t.Fatalf("expected 1 deletion, got %d", deletions)
	}
	if _, err := os.Stat(msgPath); !os.IsNotExist(err) {
		t.Fatalf("expected message file to be removed")
	}
	for _, dir := range castDirs {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("expected cast dir %s to be removed", dir)
		}
	}
}

func TestSweepUsesSeparateMessageAndCastTrees(t *testing.T) {
	root := t.TempDir()
	msgPath, castDirs := writeCompletedMessage(t, root, 0, 0)

	if filepath.Dir(msgPath) == filepath.Dir(castDirs[0]) {
		t.Fatalf("expected message and cast dir to live under separate trees, both under %s", filepath.Dir(msgPath))
	}
	wantComplete := filepath.Join(root, "workspace", "work", "msg", "complete")
	wantCast := filepath.Join(root, "workspace", "work", "proc", "ephemeral", "function", "work", "cast")
	if filepath.Dir(msgPath) != wantComplete {
		t.Fatalf("expected message under %s, got %s", wantComplete, filepath.Dir(msgPath))
	}
	if filepath.Dir(castDirs[0]) != wantCast {
		t.Fatalf("expected cast dir under %s, got %s", wantCast, filepath.Dir(castDirs[0]))
	}
}

func TestSweepSkipsMessagesWithinRetention(t *testing.T) {
	root := t.TempDir()
	msgPath, _ := writeCompletedMessage(t, root, 0, 0)

	tr := New(Config{InstanceRoot: root, Retention: time.Hour, PerRunLimit: 100}, nil)
	deletions, _ := tr.Sweep(context.Background())
	if deletions != 0 {
		t.Fatalf("expected 0 deletions within retention window, got %d", deletions)
	}
	if _, err := os.Stat(msgPath); err != nil {
		t.Fatalf("expected message file to survive: %v", err)
	}
}

func TestSweepRespectsPerRunLimit(t *testing.T) {
	root := t.TempDir()
	writeCompletedMessage(t, root, 0, 0)
	writeCompletedMessage(t, root, 0, 0)
	writeCompletedMessage(t, root, 0, 0)

	tr := New(Config{InstanceRoot: root, Retention: -time.Second, PerRunLimit: 2}, nil)
	deletions, _ := tr.Sweep(context.Background())
	if deletions != 2 {
		t.Fatalf("expected exactly 2 deletions (per-run limit), got %d", deletions)
	}
}

func TestSweepEmptyDirNoError(t *testing.T) {
	root := t.TempDir()
	tr := New(Config{InstanceRoot: root, Retention: time.Hour, PerRunLimit: 10}, nil)
	deletions, errs := tr.Sweep(context.Background())
	if deletions != 0 || errs != 0 {
		t.Fatalf("expected no-op sweep on empty instance root, got deletions=%d errs=%d", deletions, errs)
	}
}

func TestStartStopDrains(t *testing.T) {
	root := t.TempDir()
	tr := New(Config{InstanceRoot: root, Frequency: 5 * time.Millisecond, Retention: time.Hour, PerRunLimit: 10}, nil)
	tr.Start()
	time.Sleep(20 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		tr.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return in time")
	}
}
