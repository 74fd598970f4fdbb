package main

import (
	"fmt"
	"os"

	"github.com/fanbridge/rs485/logger"
)

func newLogger(level string) (logger.Logger, error) {
	l, ok := logger.ParseLevel(level)
	if !ok {
		return nil, fmt.Errorf("invalid log level: %s", level)
	}
	return logger.NewSlog(os.Stderr, l, false), nil
}
