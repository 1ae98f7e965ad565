package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	commonconfig "github.com/hepmr/hepmr/internal/common/config"
	"github.com/hepmr/hepmr/internal/common/logging"
)

const envPrefix = "HEPMR"

// BindCommandlineArguments binds the flags of the given set to viper so they override values from config files.
// Flag names are translated to config keys via keys; flags not listed are bound under their own name.
func BindCommandlineArguments(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	var err error
	flags.VisitAll(func(flag *pflag.Flag) {
		if err != nil {
			return
		}
		key, ok := keys[flag.Name]
		if !ok {
			key = flag.Name
		}
		err = v.BindPFlag(key, flag)
	})
	return errors.WithStack(err)
}

// LoadConfig reads config.yaml from defaultPath (if present), merges the user specified config files on top,
// applies HEPMR_* environment overrides and finally unmarshals the result into config.
func LoadConfig(v *viper.Viper, config interface{}, defaultPath string, overrideConfigs []string) error {
	v.SetConfigName("config")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrapf(err, "error reading base config path=%s", defaultPath)
		}
		log.Debugf("No base config found in %s, using defaults", defaultPath)
	} else {
		log.Debugf("Read base config from %s", v.ConfigFileUsed())
	}

	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			return errors.Wrapf(err, "error reading config from %s", overrideConfig)
		}
		log.Debugf("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	return errors.WithStack(v.Unmarshal(config, commonconfig.CustomHooks...))
}

// ConfigureCommandLineLogging sets up plain message logging for command line output.
func ConfigureCommandLineLogging() {
	log.SetFormatter(new(logging.CommandLineFormatter))
	log.SetOutput(os.Stdout)
}

// ServeMetrics exposes the default prometheus registry on /metrics.  A port of zero disables the server.
func ServeMetrics(port uint16) (shutdown func()) {
	return ServeMetricsFor(port, prometheus.DefaultGatherer)
}

func ServeMetricsFor(port uint16, gatherer prometheus.Gatherer) (shutdown func()) {
	if port == 0 {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return ServeHttp(port, mux)
}

func ServeHttp(port uint16, mux http.Handler) (shutdown func()) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		log.Debugf("Starting http server listening on %d", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Errorf("http server on %d failed", port)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Debugf("Stopping http server listening on %d", port)
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warnf("http server on %d did not shut down cleanly", port)
		}
	}
}
