package config

import (
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/hepmr/hepmr/internal/common/mrerrors"
)

type testConfig struct {
	Memory   resource.Quantity
	Timeout  time.Duration
	Triggers []string
	Mode     string `validate:"oneof=local slurm"`
	Workers  int    `validate:"gte=1"`
}

func TestCustomHooks(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
memory: 2Gi
timeout: 90s
triggers: HLT_IsoMu24,HLT_Mu50
mode: slurm
workers: 4
`)))

	var c testConfig
	require.NoError(t, v.Unmarshal(&c, CustomHooks...))

	assert.Equal(t, resource.MustParse("2Gi"), c.Memory)
	assert.Equal(t, 90*time.Second, c.Timeout)
	assert.Equal(t, []string{"HLT_IsoMu24", "HLT_Mu50"}, c.Triggers)
}

func TestQuantityDecodeHook_Invalid(t *testing.T) {
	v := viper.New()
	v.Set("memory", "lots")
	var c testConfig
	assert.Error(t, v.Unmarshal(&c, CustomHooks...))
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		config     testConfig
		wantFields []string
	}{
		"valid": {
			config: testConfig{Mode: "local", Workers: 1},
		},
		"bad mode": {
			config:     testConfig{Mode: "condor", Workers: 1},
			wantFields: []string{"Mode"},
		},
		"everything wrong": {
			config:     testConfig{Mode: "", Workers: 0},
			wantFields: []string{"Mode", "Workers"},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := Validate(tc.config)
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
			assert.Equal(t, mrerrors.ExitInvalidArgument, mrerrors.ExitCode(err))
		})
	}
}
