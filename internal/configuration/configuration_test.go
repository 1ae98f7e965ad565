package configuration

import (
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/hepmr/hepmr/internal/common"
	"github.com/hepmr/hepmr/internal/common/logging"
	"github.com/hepmr/hepmr/internal/common/mrerrors"
	"github.com/hepmr/hepmr/internal/pool"
)

func validConfig() HepmrConfig {
	return HepmrConfig{
		Logging: logging.Config{Level: "info", Format: "text"},
		Catalog: CatalogConfig{Files: []string{"samples.yaml"}},
		Pool:    pool.Config{Workers: 2},
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		modify     func(c *HepmrConfig)
		wantFields []string
	}{
		"valid": {
			modify: func(c *HepmrConfig) {},
		},
		"no catalog files": {
			modify:     func(c *HepmrConfig) { c.Catalog.Files = nil },
			wantFields: []string{"Catalog.Files"},
		},
		"bad log level": {
			modify:     func(c *HepmrConfig) { c.Logging.Level = "chatty" },
			wantFields: []string{"logging"},
		},
		"no workers and bad batch scheduler": {
			modify: func(c *HepmrConfig) {
				c.Pool.Workers = 0
				c.Pool.Batch = pool.BatchConfig{Enabled: true, Scheduler: "condor", Walltime: time.Hour}
			},
			wantFields: []string{"workers", "batch.scheduler"},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			tc.modify(&c)
			err := c.Validate()
			if len(tc.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}
			var merr *multierror.Error
			require.ErrorAs(t, err, &merr)
			var fields []string
			for _, e := range merr.Errors {
				var invalid *mrerrors.ErrInvalidArgument
				require.ErrorAs(t, e, &invalid)
				fields = append(fields, invalid.Name)
			}
			assert.Equal(t, tc.wantFields, fields)
		})
	}
}

func TestRunConfig_MaxFiles(t *testing.T) {
	assert.Equal(t, 0, RunConfig{}.MaxFiles())
	assert.Equal(t, SmallMaxFiles, RunConfig{Small: true}.MaxFiles())
}

func TestHistosOutputDir(t *testing.T) {
	c := validConfig()
	_, err := c.HistosOutputDir("")
	assert.Equal(t, mrerrors.ExitInvalidArgument, mrerrors.ExitCode(err))

	dir, err := c.HistosOutputDir("/tmp/out")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out", dir)

	c.Histos.OutputDir = "results"
	dir, err = c.HistosOutputDir("")
	require.NoError(t, err)
	assert.Equal(t, "results", dir)
}

func TestLoadDefaultConfig(t *testing.T) {
	var c HepmrConfig
	require.NoError(t, common.LoadConfig(viper.New(), &c, "../../config/hepmr", nil))

	assert.Equal(t, "info", c.Logging.Level)
	assert.Equal(t, []string{"samples/MetLepEnergy_nanoNtuple_v6.yaml"}, c.Catalog.Files)
	assert.Equal(t, 4, c.Pool.Workers)
	assert.Equal(t, 30*time.Second, c.Pool.ShutdownTimeout)
	assert.Equal(t, resource.MustParse("2Gi"), resource.MustParse(c.Pool.Batch.Memory))
	assert.Equal(t, resource.MustParse("4Gi"), c.Inventory.LargeFileThreshold)
	assert.Equal(t, []string{"HLT_"}, c.Inventory.IgnoreColumnPrefixes)
	assert.Equal(t, "weight", c.Selection.DataWeight)
	require.Len(t, c.Weights.Channels, 2)
	assert.Equal(t, "mu", c.Weights.Channels[0].Name)
	assert.Equal(t, []string{"mu1", "mu2", "mu3"}, c.Weights.Channels[0].Stages())
	assert.NoError(t, c.Validate())
}
