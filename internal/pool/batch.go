package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hepmr/hepmr/internal/common/mrerrors"
	"github.com/hepmr/hepmr/internal/common/util"
)

// JobStatus is the state of a batch job as reported by the batch system.
type JobStatus int

const (
	JobPending JobStatus = iota
	JobRunning
	JobCompleted
	JobFailed
	JobCancelled
	JobUnknown
)

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "Pending"
	case JobRunning:
		return "Running"
	case JobCompleted:
		return "Completed"
	case JobFailed:
		return "Failed"
	case JobCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the job will never run again.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobRequest describes the resources reserved for one worker.
type JobRequest struct {
	Name      string
	Walltime  time.Duration
	Memory    string
	Partition string
	Account   string
}

// BatchScheduler is an external batch system from which workers are acquired.
type BatchScheduler interface {
	Submit(ctx context.Context, request JobRequest) (string, error)
	Status(ctx context.Context, jobId string) (JobStatus, error)
	Cancel(ctx context.Context, jobId string) error
}

// LocalScheduler is an in-process BatchScheduler whose jobs run immediately.  It lets the batch code path be used
// on a single machine.
type LocalScheduler struct {
	mu   sync.Mutex
	jobs map[string]JobStatus
}

func NewLocalScheduler() *LocalScheduler {
	return &LocalScheduler{jobs: make(map[string]JobStatus)}
}

func (s *LocalScheduler) Submit(_ context.Context, request JobRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobId := fmt.Sprintf("%s-%s", request.Name, util.NewShortId())
	s.jobs[jobId] = JobRunning
	return jobId, nil
}

func (s *LocalScheduler) Status(_ context.Context, jobId string) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.jobs[jobId]
	if !ok {
		return JobUnknown, &mrerrors.ErrNotFound{Type: "job", Value: jobId}
	}
	return status, nil
}

func (s *LocalScheduler) Cancel(_ context.Context, jobId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobId]; !ok {
		return &mrerrors.ErrNotFound{Type: "job", Value: jobId}
	}
	s.jobs[jobId] = JobCancelled
	return nil
}

// Active returns the number of jobs that have not been cancelled.
func (s *LocalScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, status := range s.jobs {
		if !status.Terminal() {
			n++
		}
	}
	return n
}
