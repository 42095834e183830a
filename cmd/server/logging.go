package main

import (
	"io"
	"os"

	"github.com/kbats183/simple-media-server/pkg/config"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// setupLogger builds the process logger. When a log file is configured the
// output is teed to stdout and the file, and the returned func closes it.
func setupLogger(cfg config.LogConfig) (*logrus.Logger, func(), error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "log level %q", cfg.Level)
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.File == "" {
		log.SetOutput(os.Stdout)
		return log, func() {}, nil
	}
	logFile, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open log file %s", cfg.File)
	}
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	return log, func() { _ = logFile.Close() }, nil
}
