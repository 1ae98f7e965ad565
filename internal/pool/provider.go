package pool

import (
	"context"
	"os"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/hepmr/hepmr/internal/common/mrcontext"
	"github.com/hepmr/hepmr/internal/common/mrerrors"
	"github.com/hepmr/hepmr/internal/common/util"
)

// Lease is the claim a worker holds on its compute resources.
type Lease struct {
	Id string
	// Batch job backing the worker, empty for local workers.
	JobId string
	Host  string
}

// Provider acquires and releases the compute resources workers run on.
type Provider interface {
	Acquire(ctx *mrcontext.Context) (*Lease, error)
	Release(ctx *mrcontext.Context, lease *Lease) error
}

// LocalProvider hands out leases on the local machine immediately.
type LocalProvider struct {
	host string
}

func NewLocalProvider() *LocalProvider {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &LocalProvider{host: host}
}

func (p *LocalProvider) Acquire(_ *mrcontext.Context) (*Lease, error) {
	return &Lease{Id: util.NewShortId(), Host: p.host}, nil
}

func (p *LocalProvider) Release(_ *mrcontext.Context, _ *Lease) error {
	return nil
}

// ReservationJobName is the name of the batch jobs submitted by BatchProvider.
const ReservationJobName = "hepmr-reservation"

// BatchProvider reserves one batch job per worker and waits for it to start.  The job only holds the
// allocation (walltime, memory, partition) for the lifetime of the worker; the worker and its tasks run in
// this process.
type BatchProvider struct {
	scheduler    BatchScheduler
	request      JobRequest
	retries      uint
	pollInterval time.Duration
	clock        clock.Clock
}

func NewBatchProvider(scheduler BatchScheduler, config BatchConfig, clock clock.Clock) *BatchProvider {
	retries := config.SubmitRetries
	if retries == 0 {
		retries = 1
	}
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &BatchProvider{
		scheduler: scheduler,
		request: JobRequest{
			Name:      ReservationJobName,
			Walltime:  config.Walltime,
			Memory:    config.Memory,
			Partition: config.Partition,
			Account:   config.Account,
		},
		retries:      retries,
		pollInterval: pollInterval,
		clock:        clock,
	}
}

// NewProvider returns the provider selected by config.
func NewProvider(config Config, runner CommandRunner, clock clock.Clock) Provider {
	if !config.Batch.Enabled {
		return NewLocalProvider()
	}
	var scheduler BatchScheduler
	switch config.Batch.Scheduler {
	case SlurmSchedulerName:
		scheduler = NewSlurmScheduler(runner)
	default:
		scheduler = NewLocalScheduler()
	}
	return NewBatchProvider(scheduler, config.Batch, clock)
}

// Acquire submits a job and blocks until it runs.  A job that ends before it was seen running is resubmitted,
// up to the configured number of attempts.
func (p *BatchProvider) Acquire(ctx *mrcontext.Context) (*Lease, error) {
	var lease *Lease
	err := retry.Do(
		func() error {
			jobId, err := p.scheduler.Submit(ctx, p.request)
			if err != nil {
				return err
			}
			ctx.Log.Debugf("Submitted batch job %s", jobId)
			if err := p.waitUntilRunning(ctx, jobId); err != nil {
				if cancelErr := p.scheduler.Cancel(context.Background(), jobId); cancelErr != nil {
					ctx.Log.WithError(cancelErr).Warnf("Failed to cancel batch job %s", jobId)
				}
				return err
			}
			lease = &Lease{Id: util.NewShortId(), JobId: jobId}
			return nil
		},
		retry.Attempts(p.retries),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			ctx.Log.WithError(err).Warnf("Acquiring batch worker failed (attempt %d of %d)", n+1, p.retries)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &mrerrors.ErrWorkerUnavailable{Message: "could not acquire batch worker", Cause: err}
	}
	return lease, nil
}

func (p *BatchProvider) waitUntilRunning(ctx *mrcontext.Context, jobId string) error {
	for {
		status, err := p.scheduler.Status(ctx, jobId)
		if err != nil {
			return err
		}
		switch {
		case status == JobRunning:
			return nil
		case status.Terminal():
			return errors.Errorf("batch job %s ended with status %s before it started", jobId, status)
		}
		select {
		case <-ctx.Done():
			return retry.Unrecoverable(ctx.Err())
		case <-p.clock.After(p.pollInterval):
		}
	}
}

// Release cancels the job backing lease.
func (p *BatchProvider) Release(ctx *mrcontext.Context, lease *Lease) error {
	if lease == nil || lease.JobId == "" {
		return nil
	}
	ctx.Log.Debugf("Cancelling batch job %s", lease.JobId)
	return errors.WithMessagef(p.scheduler.Cancel(ctx, lease.JobId), "failed to cancel batch job %s", lease.JobId)
}
