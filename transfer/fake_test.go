package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/aws/smithy-go"

	"github.com/Kovercrosser/easy-cold-storage-uploader/treehash"
	"github.com/Kovercrosser/easy-cold-storage-uploader/types"
)

// memStore is an in-memory Store with failure injection and call counters.
type memStore struct {
	mu       sync.Mutex
	nextID   int
	sessions map[string]map[int64][]byte
	archives map[string][]byte
	aborted  []string
	jobs     map[string]*Job
	// pollsUntilReady is how many DescribeJob calls report InProgress
	// before a job succeeds.
	pollsUntilReady int
	polls           map[string]int

	// uploadHook runs before each part is stored; a non-nil error fails the call.
	uploadHook func(ctx context.Context, r ByteRange) error
	// failJob marks every initiated job as failed.
	failJob bool
	// corruptWindow makes GetJobOutput report a wrong checksum.
	corruptWindow bool
	// describeFailures is how many DescribeJob calls fail before answering.
	describeFailures int
	// outputHook runs before each ranged read; a non-nil error fails the call.
	outputHook func(ctx context.Context, r ByteRange) error

	initiateCalls atomic.Int32
	partCalls     atomic.Int32
	completeCalls atomic.Int32
	abortCalls    atomic.Int32
	jobCalls      atomic.Int32
	uploadedBytes atomic.Int64
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]map[int64][]byte),
		archives: make(map[string][]byte),
		jobs:     make(map[string]*Job),
		polls:    make(map[string]int),
	}
}

func (s *memStore) remoteCalls() int32 {
	return s.initiateCalls.Load() + s.partCalls.Load() + s.completeCalls.Load() + s.abortCalls.Load()
}

func (s *memStore) Target() Target {
	return Target{Method: types.TransferGlacier, Region: "eu-central-1", Vault: "test-vault"}
}

func (s *memStore) InitiateUpload(_ context.Context, description string, _ int64) (Session, error) {
	s.initiateCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("session-%d", s.nextID)
	s.sessions[id] = make(map[int64][]byte)
	return Session{ID: id, Location: "/vaults/test-vault/multipart-uploads/" + id}, nil
}

func (s *memStore) UploadPart(ctx context.Context, sessionID string, r ByteRange, body []byte, checksum string) (string, error) {
	s.partCalls.Add(1)
	if s.uploadHook != nil {
		if err := s.uploadHook(ctx, r); err != nil {
			return "", err
		}
	}
	if int64(len(body)) != r.Len() {
		return "", fmt.Errorf("body length %d does not match range %s", len(body), r.ContentRange())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	parts, ok := s.sessions[sessionID]
	if !ok {
		return "", fmt.Errorf("unknown session %s", sessionID)
	}
	parts[r.Start] = append([]byte(nil), body...)
	s.uploadedBytes.Add(int64(len(body)))
	return treehash.SumHex(body), nil
}

func (s *memStore) CompleteUpload(_ context.Context, sessionID string, size int64, checksum string) (Archive, error) {
	s.completeCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	parts, ok := s.sessions[sessionID]
	if !ok {
		return Archive{}, fmt.Errorf("unknown session %s", sessionID)
	}
	starts := make([]int64, 0, len(parts))
	for start := range parts {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	var buf bytes.Buffer
	for _, start := range starts {
		if int64(buf.Len()) != start {
			return Archive{}, fmt.Errorf("gap before offset %d", start)
		}
		buf.Write(parts[start])
	}
	if int64(buf.Len()) != size {
		return Archive{}, fmt.Errorf("size %d, assembled %d", size, buf.Len())
	}
	if got := treehash.SumHex(buf.Bytes()); got != checksum {
		return Archive{}, fmt.Errorf("checksum %s, assembled %s", checksum, got)
	}
	delete(s.sessions, sessionID)
	id := "archive-" + sessionID
	s.archives[id] = buf.Bytes()
	return Archive{ID: id, Checksum: checksum, Location: "/vaults/test-vault/archives/" + id}, nil
}

func (s *memStore) AbortUpload(_ context.Context, sessionID string) error {
	s.abortCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	s.aborted = append(s.aborted, sessionID)
	return nil
}

func (s *memStore) InitiateRetrieval(_ context.Context, archiveID string) (string, error) {
	s.jobCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.archives[archiveID]
	if !ok {
		return "", errors.New("ResourceNotFoundException: archive not found")
	}
	s.nextID++
	id := fmt.Sprintf("job-%d", s.nextID)
	s.jobs[id] = &Job{
		ID:        id,
		Action:    ActionArchiveRetrieval,
		ArchiveID: archiveID,
		Status:    JobInProgress,
		Size:      int64(len(data)),
		TreeHash:  treehash.SumHex(data),
	}
	return id, nil
}

func (s *memStore) ListJobs(context.Context) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, *j)
	}
	return jobs, nil
}

func (s *memStore) DescribeJob(_ context.Context, jobID string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.describeFailures > 0 {
		s.describeFailures--
		return Job{}, &smithy.GenericAPIError{Code: "RequestTimeout", Message: "describe job"}
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return Job{}, fmt.Errorf("unknown job %s", jobID)
	}
	if j.Status == JobInProgress {
		s.polls[jobID]++
		if s.failJob {
			j.Status = JobFailed
			j.StatusMessage = "staging failed"
		} else if s.polls[jobID] > s.pollsUntilReady {
			j.Status = JobSucceeded
		}
	}
	return *j, nil
}

func (s *memStore) GetJobOutput(ctx context.Context, jobID string, r ByteRange) (JobOutput, error) {
	if s.outputHook != nil {
		if err := s.outputHook(ctx, r); err != nil {
			return JobOutput{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != JobSucceeded {
		return JobOutput{}, fmt.Errorf("job %s not ready", jobID)
	}
	data := s.archives[j.ArchiveID]
	if r.End >= int64(len(data)) {
		return JobOutput{}, fmt.Errorf("range %s beyond archive", r.HTTPRange())
	}
	body := append([]byte(nil), data[r.Start:r.End+1]...)
	sum := treehash.SumHex(body)
	if s.corruptWindow {
		sum = treehash.SumHex([]byte("corrupt"))
	}
	return JobOutput{Checksum: sum, Body: body}, nil
}

// addJob seeds an existing job for archiveID.
func (s *memStore) addJob(id, archiveID string, status JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.archives[archiveID]
	s.jobs[id] = &Job{
		ID:        id,
		Action:    ActionArchiveRetrieval,
		ArchiveID: archiveID,
		Status:    status,
		Size:      int64(len(data)),
		TreeHash:  treehash.SumHex(data),
	}
}

var _ Store = (*memStore)(nil)
