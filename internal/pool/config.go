package pool

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/hepmr/hepmr/internal/common/mrerrors"
)

const (
	LocalSchedulerName = "local"
	SlurmSchedulerName = "slurm"
)

type Config struct {
	// Number of workers of a static pool.
	Workers int
	// If greater than zero the pool is adaptive and scales between 1 and MaxWorkers with the number of outstanding tasks.
	MaxWorkers int
	// How often an adaptive pool re-evaluates its size.
	ScaleInterval time.Duration
	// How long the pool must have been larger than needed before workers are retired.
	ScaleDownDelay time.Duration
	// How long Close waits for running tasks before releasing their workers anyway.
	ShutdownTimeout time.Duration
	// Consecutive worker setup failures after which the pool gives up and fails outstanding tasks.
	MaxSetupFailures int
	Batch            BatchConfig
}

// BatchConfig configures reserving batch allocations for the workers.  Every worker holds one batch job for its
// lifetime; tasks still run in this process.
type BatchConfig struct {
	Enabled bool
	// One of "local" or "slurm".
	Scheduler string
	// Requested walltime of each job.  This is a reservation parameter; tasks are not timed out.
	Walltime time.Duration
	// Requested memory of each job as a quantity, e.g. 2Gi.
	Memory    string
	Partition string
	Account   string
	// Attempts at submitting a job before the worker is given up.
	SubmitRetries uint
	// Delay between job status queries while waiting for a job to start.
	PollInterval time.Duration
}

// Adaptive reports whether the pool scales with the load.
func (c Config) Adaptive() bool {
	return c.MaxWorkers > 0
}

// InitialWorkers is the number of workers started by Start.
func (c Config) InitialWorkers() int {
	if c.Adaptive() {
		return 1
	}
	return c.Workers
}

func (c Config) Validate() error {
	var result *multierror.Error
	if !c.Adaptive() && c.Workers < 1 {
		result = multierror.Append(result, &mrerrors.ErrInvalidArgument{
			Name:    "workers",
			Value:   c.Workers,
			Message: "a static pool needs at least one worker",
		})
	}
	if c.MaxWorkers < 0 {
		result = multierror.Append(result, &mrerrors.ErrInvalidArgument{
			Name:    "maxWorkers",
			Value:   c.MaxWorkers,
			Message: "must not be negative",
		})
	}
	if c.Adaptive() && c.ScaleInterval <= 0 {
		result = multierror.Append(result, &mrerrors.ErrInvalidArgument{
			Name:    "scaleInterval",
			Value:   c.ScaleInterval,
			Message: "must be positive for an adaptive pool",
		})
	}
	if c.Batch.Enabled {
		if c.Batch.Scheduler != LocalSchedulerName && c.Batch.Scheduler != SlurmSchedulerName {
			result = multierror.Append(result, &mrerrors.ErrInvalidArgument{
				Name:    "batch.scheduler",
				Value:   c.Batch.Scheduler,
				Message: "must be local or slurm",
			})
		}
		if c.Batch.Walltime <= 0 {
			result = multierror.Append(result, &mrerrors.ErrInvalidArgument{
				Name:    "batch.walltime",
				Value:   c.Batch.Walltime,
				Message: "must be positive",
			})
		}
		if c.Batch.Memory != "" {
			if _, err := resource.ParseQuantity(c.Batch.Memory); err != nil {
				result = multierror.Append(result, &mrerrors.ErrInvalidArgument{
					Name:    "batch.memory",
					Value:   c.Batch.Memory,
					Message: err.Error(),
				})
			}
		}
	}
	return result.ErrorOrNil()
}
