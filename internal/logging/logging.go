// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup applies level and format ("json" or "text") to the standard logger.
func Setup(level, format string) error {
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(parsed)
	log.SetOutput(os.Stdout)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}
