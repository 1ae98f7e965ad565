package logging

import (
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var validLogFormats = map[string]bool{
	"text":    true,
	"json":    true,
	"colored": true,
}

// Config defines hepmr logging configuration.
type Config struct {
	// Log level, e.g. INFO, ERROR etc
	Level string
	// Logging format, either text, colored or json
	Format string
	// Count log lines per level in prometheus
	Metrics bool
}

func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	if _, ok := validLogFormats[c.Format]; !ok {
		formats := maps.Keys(validLogFormats)
		slices.Sort(formats)
		return errors.Errorf("unknown log format: %s.  Valid formats are %s", c.Format, formats)
	}
	return nil
}

// ParseLevel parses a case-insensitive level name, accepting "warning" as an alias of "warn".
func ParseLevel(level string) (log.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel, nil
	case "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	case "fatal":
		return log.FatalLevel, nil
	default:
		return log.InfoLevel, errors.Errorf("unknown level: %s", level)
	}
}

// Configure applies the configuration to the standard logrus logger.
func Configure(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	level, _ := ParseLevel(c.Level)
	log.SetLevel(level)
	switch c.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "colored":
		log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if c.Metrics {
		log.AddHook(NewPrometheusHook())
	}
	return nil
}
