package ulogger

import (
	"io"
	"os"
)

const (
	colorBlack = iota + 30
	colorRed
	colorGreen
	colorYellow
	colorBlue
	colorMagenta
	colorCyan
	colorWhite

	colorBold     = 1
	colorDarkGray = 90
)

type Logger interface {
	LogLevel() int
	SetLogLevel(level string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	New(service string, options ...Option) Logger
}

type Options struct {
	writer   io.Writer
	logLevel string
}

type Option func(*Options)

func DefaultOptions() *Options {
	return &Options{
		writer:   os.Stdout,
		logLevel: "INFO",
	}
}

func WithWriter(w io.Writer) Option {
	return func(o *Options) {
		o.writer = w
	}
}

func WithLevel(level string) Option {
	return func(o *Options) {
		o.logLevel = level
	}
}

func New(service string, options ...Option) Logger {
	return NewZeroLogger(service, options...)
}
