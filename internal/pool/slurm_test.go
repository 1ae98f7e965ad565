package pool

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"

	"github.com/hepmr/hepmr/internal/common/mrcontext"
	"github.com/hepmr/hepmr/internal/common/mrerrors"
)

type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	outputs  map[string][]string
	err      error
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, strings.Join(append([]string{name}, args...), " "))
	if r.err != nil {
		return nil, r.err
	}
	outputs := r.outputs[name]
	if len(outputs) == 0 {
		return nil, nil
	}
	out := outputs[0]
	if len(outputs) > 1 {
		r.outputs[name] = outputs[1:]
	}
	return []byte(out), nil
}

func TestSlurmScheduler_Submit(t *testing.T) {
	runner := &fakeRunner{outputs: map[string][]string{"sbatch": {"4242;cluster\n"}}}
	s := NewSlurmScheduler(runner)

	jobId, err := s.Submit(context.Background(), JobRequest{
		Name:      ReservationJobName,
		Walltime:  90 * time.Minute,
		Memory:    "2Gi",
		Partition: "short",
	})
	require.NoError(t, err)
	assert.Equal(t, "4242", jobId)
	assert.Equal(t, []string{
		"sbatch --parsable --job-name=hepmr-reservation --time=01:30:00 --mem=2048M --partition=short --wrap sleep 5400",
	}, runner.commands)
}

func TestSlurmScheduler_Status(t *testing.T) {
	tests := map[string]struct {
		output   string
		expected JobStatus
	}{
		"pending":   {output: "PENDING\n", expected: JobPending},
		"running":   {output: "RUNNING\n", expected: JobRunning},
		"gone":      {output: "", expected: JobCompleted},
		"cancelled": {output: "CANCELLED", expected: JobCancelled},
		"timeout":   {output: "TIMEOUT", expected: JobFailed},
		"unknown":   {output: "STRANGE", expected: JobUnknown},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			runner := &fakeRunner{outputs: map[string][]string{"squeue": {tc.output}}}
			status, err := NewSlurmScheduler(runner).Status(context.Background(), "17")
			require.NoError(t, err)
			assert.Equal(t, tc.expected, status)
			assert.Equal(t, []string{"squeue --noheader --format=%T --jobs=17"}, runner.commands)
		})
	}
}

func TestSlurmScheduler_Cancel(t *testing.T) {
	runner := &fakeRunner{}
	require.NoError(t, NewSlurmScheduler(runner).Cancel(context.Background(), "17"))
	assert.Equal(t, []string{"scancel 17"}, runner.commands)
}

func TestFormatWalltime(t *testing.T) {
	tests := map[string]struct {
		walltime time.Duration
		expected string
	}{
		"minimum one minute": {walltime: 10 * time.Second, expected: "00:01:00"},
		"hours":              {walltime: 3*time.Hour + 5*time.Second, expected: "03:00:05"},
		"days":               {walltime: 50 * time.Hour, expected: "2-02:00:00"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, formatWalltime(tc.walltime))
		})
	}
}

func TestFormatMemory(t *testing.T) {
	mem, err := formatMemory("1500M")
	require.NoError(t, err)
	assert.Equal(t, "1431M", mem)

	mem, err = formatMemory("4Gi")
	require.NoError(t, err)
	assert.Equal(t, "4096M", mem)

	_, err = formatMemory("lots")
	assert.Error(t, err)
}

func TestBatchProvider_AcquireWaitsForRunningJob(t *testing.T) {
	runner := &fakeRunner{outputs: map[string][]string{
		"sbatch": {"1"},
		"squeue": {"PENDING", "PENDING", "RUNNING"},
	}}
	config := BatchConfig{Walltime: time.Hour, SubmitRetries: 1, PollInterval: time.Millisecond}
	provider := NewBatchProvider(NewSlurmScheduler(runner), config, clock.RealClock{})

	lease, err := provider.Acquire(mrcontext.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", lease.JobId)
	assert.Len(t, runner.commands, 4)

	require.NoError(t, provider.Release(mrcontext.Background(), lease))
	assert.Equal(t, "scancel 1", runner.commands[len(runner.commands)-1])
}

func TestBatchProvider_ResubmitsFailedJob(t *testing.T) {
	runner := &fakeRunner{outputs: map[string][]string{
		"sbatch": {"1", "2"},
		"squeue": {"NODE_FAIL", "RUNNING"},
	}}
	config := BatchConfig{Walltime: time.Hour, SubmitRetries: 3, PollInterval: time.Millisecond}
	provider := NewBatchProvider(NewSlurmScheduler(runner), config, clock.RealClock{})

	lease, err := provider.Acquire(mrcontext.Background())
	require.NoError(t, err)
	assert.Equal(t, "2", lease.JobId)
	assert.Contains(t, runner.commands, "scancel 1")
}

func TestBatchProvider_GivesUp(t *testing.T) {
	runner := &fakeRunner{err: errors.New("sbatch: command not found")}
	config := BatchConfig{Walltime: time.Hour, SubmitRetries: 2, PollInterval: time.Millisecond}
	provider := NewBatchProvider(NewSlurmScheduler(runner), config, clock.RealClock{})

	_, err := provider.Acquire(mrcontext.Background())
	var unavailable *mrerrors.ErrWorkerUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Len(t, runner.commands, 2)
}

func TestBatchProvider_ReservationJob(t *testing.T) {
	tests := map[string]struct {
		config   BatchConfig
		expected string
	}{
		"walltime only": {
			config:   BatchConfig{Walltime: time.Hour},
			expected: "sbatch --parsable --job-name=hepmr-reservation --time=01:00:00 --wrap sleep 3600",
		},
		"memory and account": {
			config:   BatchConfig{Walltime: 2 * time.Minute, Memory: "512Mi", Account: "cms"},
			expected: "sbatch --parsable --job-name=hepmr-reservation --time=00:02:00 --mem=512M --account=cms --wrap sleep 120",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			runner := &fakeRunner{outputs: map[string][]string{"sbatch": {"7"}, "squeue": {"RUNNING"}}}
			tc.config.PollInterval = time.Millisecond
			provider := NewBatchProvider(NewSlurmScheduler(runner), tc.config, clock.RealClock{})

			lease, err := provider.Acquire(mrcontext.Background())
			require.NoError(t, err)
			assert.Equal(t, "7", lease.JobId)
			require.NotEmpty(t, runner.commands)
			// The job holds the allocation; nothing but sleep runs in it.
			assert.Equal(t, tc.expected, runner.commands[0])
		})
	}
}
