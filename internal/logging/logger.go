package logger

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// Config holds the process-wide logging options.
type Config struct {
	Level  string // Logging level (e.g., "info", "debug", "trace")
	Format string // Logging format ("text" or "json")
}

// Configure applies the given Config onto the global logrus logger.
func Configure(c Config) error {
	parsedLevel, err := log.ParseLevel(c.Level)
	if err != nil {
		return err
	}

	var formatter log.Formatter
	switch c.Format {
	case "text":
		formatter = &log.TextFormatter{
			FullTimestamp: true,
		}
	case "json":
		formatter = &log.JSONFormatter{}
	default:
		return fmt.Errorf("invalid log format '%s'", c.Format)
	}

	log.SetLevel(parsedLevel)
	log.SetFormatter(formatter)
	log.SetOutput(os.Stdout)

	return nil
}
