package metrics

import (
	"sync"
	"testing"
)

func TestCollector_UploadCounters(t *testing.T) {
	c := NewCollector("glacier", "default", false)

	c.IncSessionOpened()
	c.RecordPartUploaded(100)
	c.RecordPartUploaded(50)
	c.IncPartRetry()
	c.IncPartRetry()
	c.IncPartFailed()
	c.IncSessionAborted()

	s := c.Snapshot()
	if s.SessionsOpened != 1 {
		t.Errorf("SessionsOpened = %d, want 1", s.SessionsOpened)
	}
	if s.PartsUploaded != 2 {
		t.Errorf("PartsUploaded = %d, want 2", s.PartsUploaded)
	}
	if s.BytesUploaded != 150 {
		t.Errorf("BytesUploaded = %d, want 150", s.BytesUploaded)
	}
	if s.PartRetries != 2 {
		t.Errorf("PartRetries = %d, want 2", s.PartRetries)
	}
	if s.PartsFailed != 1 {
		t.Errorf("PartsFailed = %d, want 1", s.PartsFailed)
	}
	if s.SessionsAbort != 1 {
		t.Errorf("SessionsAbort = %d, want 1", s.SessionsAbort)
	}
	if s.SessionsDone != 0 {
		t.Errorf("SessionsDone = %d, want 0", s.SessionsDone)
	}
}

func TestCollector_DownloadCounters(t *testing.T) {
	c := NewCollector("glacier", "default", false)

	c.IncJobReused()
	c.IncJobPoll()
	c.IncJobPoll()
	c.IncJobPoll()
	c.RecordWindowDownloaded(32)
	c.IncChecksumMismatch()

	s := c.Snapshot()
	if s.JobsReused != 1 || s.JobsInitiated != 0 {
		t.Errorf("JobsReused = %d, JobsInitiated = %d, want 1, 0", s.JobsReused, s.JobsInitiated)
	}
	if s.JobPolls != 3 {
		t.Errorf("JobPolls = %d, want 3", s.JobPolls)
	}
	if s.WindowsDownloaded != 1 || s.BytesDownloaded != 32 {
		t.Errorf("WindowsDownloaded = %d, BytesDownloaded = %d, want 1, 32", s.WindowsDownloaded, s.BytesDownloaded)
	}
	if s.ChecksumMismatches != 1 {
		t.Errorf("ChecksumMismatches = %d, want 1", s.ChecksumMismatches)
	}
}

func TestCollector_Dimensions(t *testing.T) {
	s := NewCollector("save", "archive", true).Snapshot()
	if s.TransferMethod != "save" {
		t.Errorf("TransferMethod = %q, want %q", s.TransferMethod, "save")
	}
	if s.Profile != "archive" {
		t.Errorf("Profile = %q, want %q", s.Profile, "archive")
	}
	if !s.DryRun {
		t.Error("DryRun = false, want true")
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("glacier", "default", false)
	c.RecordPartUploaded(10)

	s := c.Snapshot()
	c.RecordPartUploaded(10)

	if s.PartsUploaded != 1 {
		t.Errorf("snapshot PartsUploaded = %d after later mutation, want 1", s.PartsUploaded)
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	c.IncSessionOpened()
	c.IncSessionCompleted()
	c.IncSessionAborted()
	c.RecordPartUploaded(1)
	c.IncPartFailed()
	c.IncPartRetry()
	c.IncJobInitiated()
	c.IncJobReused()
	c.IncJobPoll()
	c.RecordWindowDownloaded(1)
	c.IncChecksumMismatch()

	if s := c.Snapshot(); s != (Snapshot{}) {
		t.Errorf("nil Snapshot() = %+v, want zero value", s)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("glacier", "default", false)

	var wg sync.WaitGroup
	const goroutines = 16
	const perGoroutine = 250
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				c.RecordPartUploaded(2)
				c.IncJobPoll()
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.PartsUploaded != goroutines*perGoroutine {
		t.Errorf("PartsUploaded = %d, want %d", s.PartsUploaded, goroutines*perGoroutine)
	}
	if s.BytesUploaded != 2*goroutines*perGoroutine {
		t.Errorf("BytesUploaded = %d, want %d", s.BytesUploaded, 2*goroutines*perGoroutine)
	}
	if s.JobPolls != goroutines*perGoroutine {
		t.Errorf("JobPolls = %d, want %d", s.JobPolls, goroutines*perGoroutine)
	}
}
