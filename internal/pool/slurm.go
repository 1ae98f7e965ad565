package pool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/api/resource"
)

// CommandRunner runs an external command and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the local machine.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// SlurmScheduler reserves allocations as SLURM jobs through sbatch, squeue and scancel.
// A job runs nothing but sleep, holding its allocation until it is cancelled or its walltime runs out.
type SlurmScheduler struct {
	runner CommandRunner
}

func NewSlurmScheduler(runner CommandRunner) *SlurmScheduler {
	return &SlurmScheduler{runner: runner}
}

func (s *SlurmScheduler) Submit(ctx context.Context, request JobRequest) (string, error) {
	args, err := sbatchArgs(request)
	if err != nil {
		return "", err
	}
	out, err := s.runner.Run(ctx, "sbatch", args...)
	if err != nil {
		return "", err
	}
	// --parsable prints "jobid" or "jobid;cluster"
	jobId := strings.TrimSpace(strings.SplitN(string(out), ";", 2)[0])
	if jobId == "" {
		return "", errors.Errorf("sbatch returned no job id")
	}
	return jobId, nil
}

func sbatchArgs(request JobRequest) ([]string, error) {
	args := []string{
		"--parsable",
		"--job-name=" + request.Name,
		"--time=" + formatWalltime(request.Walltime),
	}
	if request.Memory != "" {
		mem, err := formatMemory(request.Memory)
		if err != nil {
			return nil, err
		}
		args = append(args, "--mem="+mem)
	}
	if request.Partition != "" {
		args = append(args, "--partition="+request.Partition)
	}
	if request.Account != "" {
		args = append(args, "--account="+request.Account)
	}
	return append(args, "--wrap", fmt.Sprintf("sleep %d", int64(request.Walltime.Seconds()))), nil
}

func (s *SlurmScheduler) Status(ctx context.Context, jobId string) (JobStatus, error) {
	out, err := s.runner.Run(ctx, "squeue", "--noheader", "--format=%T", "--jobs="+jobId)
	if err != nil {
		return JobUnknown, err
	}
	state := strings.TrimSpace(string(out))
	switch state {
	case "PENDING", "CONFIGURING", "REQUEUED", "RESIZING", "SUSPENDED":
		return JobPending, nil
	case "RUNNING", "COMPLETING":
		return JobRunning, nil
	case "", "COMPLETED":
		// squeue forgets finished jobs shortly after they end.
		return JobCompleted, nil
	case "CANCELLED":
		return JobCancelled, nil
	case "FAILED", "TIMEOUT", "NODE_FAIL", "OUT_OF_MEMORY", "PREEMPTED", "BOOT_FAIL", "DEADLINE":
		return JobFailed, nil
	default:
		return JobUnknown, nil
	}
}

func (s *SlurmScheduler) Cancel(ctx context.Context, jobId string) error {
	_, err := s.runner.Run(ctx, "scancel", jobId)
	return err
}

// formatWalltime renders d in the [days-]hours:minutes:seconds form accepted by --time.
func formatWalltime(d time.Duration) string {
	total := int64(d.Round(time.Second).Seconds())
	if total < 60 {
		total = 60
	}
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// formatMemory converts a quantity such as 2Gi or 1500M to whole megabytes for --mem.
func formatMemory(memory string) (string, error) {
	q, err := resource.ParseQuantity(memory)
	if err != nil {
		return "", errors.Wrapf(err, "invalid memory %q", memory)
	}
	const mebibyte = 1024 * 1024
	mb := (q.Value() + mebibyte - 1) / mebibyte
	return fmt.Sprintf("%dM", mb), nil
}
