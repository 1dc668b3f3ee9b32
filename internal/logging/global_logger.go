package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// SetLogLevel maps a config/CLI verbosity string onto a logrus level.
// "quiet"/"silent" suppress everything but fatal log lines; "verbose" is an
// alias for debug; anything unrecognized defaults to info.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// Format selects logrus's output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Configure wires up the global logrus logger: output format, destination,
// and the ring buffer hook that backs the `logs` CLI subcommand (§7.4).
func Configure(format Format, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	log.SetOutput(output)

	switch format {
	case FormatJSON:
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.AddHook(GlobalBuffer)
}
