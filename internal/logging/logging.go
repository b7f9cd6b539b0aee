package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/juju/lumberjack/v2"
	"github.com/sirupsen/logrus"
)

type Options struct {
	File   string
	Debug  bool
	Stdout io.Writer
}

// Setup returns a logger writing to a rotated log file. With Debug set the
// level drops to debug and lines are mirrored to stdout.
func Setup(opts Options) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		DisableColors:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(logrus.InfoLevel)
	if opts.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	if opts.File == "" {
		logger.SetOutput(stdout)
		return logger, io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, nil, err
	}
	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		Compress:   true,
	}
	var out io.Writer = file
	if opts.Debug {
		out = io.MultiWriter(file, stdout)
	}
	logger.SetOutput(out)
	return logger, file, nil
}
