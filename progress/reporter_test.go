package progress

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestReporter_AggregatesByWorker(t *testing.T) {
	r := NewReporter(nil)
	r.Report("upload", "w1", StatusWaiting, "")
	r.Report("upload", "w2", StatusWorking, "part 0")
	r.Report("upload", "w1", StatusWorking, "part 1")
	r.Report("upload", "w2", StatusFinished, "part 0 done")
	r.Stop()

	rows := r.Snapshot()
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].WorkerID != "w1" || rows[0].Status != StatusWorking || rows[0].Message != "part 1" {
		t.Errorf("rows[0] = %+v", rows[0])
	}
	if rows[1].WorkerID != "w2" || rows[1].Status != StatusFinished {
		t.Errorf("rows[1] = %+v", rows[1])
	}
}

func TestReporter_StopDrainsAndRenders(t *testing.T) {
	var mu sync.Mutex
	var last []Event
	r := NewReporter(RendererFunc(func(rows []Event) {
		mu.Lock()
		last = rows
		mu.Unlock()
	}))

	for i := range 20 {
		r.Report("upload", fmt.Sprintf("w%d", i), StatusFinished, "")
	}
	r.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(last) != 20 {
		t.Errorf("last render had %d rows, want 20", len(last))
	}
}

func TestReporter_EmitAfterStopIsDropped(t *testing.T) {
	r := NewReporter(nil)
	r.Stop()
	r.Stop()
	r.Report("upload", "late", StatusWorking, "")

	if rows := r.Snapshot(); len(rows) != 0 {
		t.Errorf("Snapshot() = %v, want empty", rows)
	}
}

func TestReporter_EmitNeverBlocksOnSlowRenderer(t *testing.T) {
	release := make(chan struct{})
	r := NewReporter(RendererFunc(func([]Event) { <-release }))

	done := make(chan struct{})
	go func() {
		for i := range 10_000 {
			r.Report("upload", fmt.Sprintf("w%d", i%4), StatusWorking, "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Emit blocked while the renderer was stalled")
	}
	close(release)
	r.Stop()

	if rows := r.Snapshot(); len(rows) != 4 {
		t.Errorf("got %d rows, want 4", len(rows))
	}
}

func TestReporter_ConcurrentProducers(t *testing.T) {
	r := NewReporter(nil, WithPollInterval(time.Millisecond))
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("w%d", w)
			for range 100 {
				r.Report("upload", id, StatusWorking, "")
			}
			r.Report("upload", id, StatusFinished, "")
		}()
	}
	wg.Wait()
	r.Stop()

	counts := Counts(r.Snapshot())
	if counts[StatusFinished] != 8 {
		t.Errorf("finished = %d, want 8 (counts %v)", counts[StatusFinished], counts)
	}
}

func TestReporter_NilIsNoop(t *testing.T) {
	var r *Reporter
	r.Report("upload", "w1", StatusWorking, "")
	r.Stop()
	if r.Snapshot() != nil {
		t.Error("nil reporter returned rows")
	}
}

func TestReporter_Timestamps(t *testing.T) {
	fixed := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	r := NewReporter(nil, WithClock(func() time.Time { return fixed }))
	r.Report("download", "window-0", StatusFinished, "")
	r.Stop()

	if got := r.Snapshot()[0].Time; !got.Equal(fixed) {
		t.Errorf("Time = %v, want %v", got, fixed)
	}
}
