package ulogger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ordishs/gocore"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

type ZLoggerWrapper struct {
	zerolog.Logger
	service string
	w       io.Writer
}

func NewZeroLogger(service string, options ...Option) *ZLoggerWrapper {
	if service == "" {
		service = "dex"
	}

	opts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	var z *ZLoggerWrapper
	if gocore.Config().GetBool("PRETTY_LOGS", true) {
		z = prettyZeroLogger(opts.writer, service)
	} else {
		z = &ZLoggerWrapper{
			zerolog.New(opts.writer).With().
				Timestamp().
				Logger(),
			service,
			opts.writer,
		}
	}

	z.SetLogLevel(opts.logLevel)

	return z
}

func colorize(s string, color int, disabled bool) string {
	if disabled {
		return s
	}

	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", color, s)
}

func prettyZeroLogger(writer io.Writer, service string) *ZLoggerWrapper {
	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	output := zerolog.ConsoleWriter{
		Out:        writer,
		NoColor:    !isTerminal,
		TimeFormat: time.RFC3339,
	}

	output.FormatTimestamp = func(i interface{}) string {
		parse, _ := time.Parse(time.RFC3339, i.(string))
		return parse.Format("15:04:05")
	}

	output.FormatLevel = func(i interface{}) string {
		l := strings.ToUpper(fmt.Sprintf("%-6s", i))

		switch i {
		case "debug":
			l = colorize(l, colorBlue, !isTerminal)
		case "info":
			l = colorize(l, colorGreen, !isTerminal)
		case "warn":
			l = colorize(l, colorYellow, !isTerminal)
		case "error", "fatal", "panic":
			l = colorize(l, colorRed, !isTerminal)
		default:
			l = colorize(l, colorWhite, !isTerminal)
		}

		return fmt.Sprintf("| %s|", l)
	}

	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("| %-6s| %s", service, i)
	}

	return &ZLoggerWrapper{
		zerolog.New(output).With().
			Timestamp().
			Logger(),
		service,
		writer,
	}
}

func (z *ZLoggerWrapper) New(service string, options ...Option) Logger {
	o := []Option{
		WithWriter(z.w),
		WithLevel(z.Logger.GetLevel().String()),
	}
	o = append(o, options...)

	return NewZeroLogger(service, o...)
}

func (z *ZLoggerWrapper) SetLogLevel(logLevel string) {
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		z.Logger = z.Logger.Level(zerolog.DebugLevel)
	case "INFO":
		z.Logger = z.Logger.Level(zerolog.InfoLevel)
	case "WARN":
		z.Logger = z.Logger.Level(zerolog.WarnLevel)
	case "ERROR":
		z.Logger = z.Logger.Level(zerolog.ErrorLevel)
	case "FATAL":
		z.Logger = z.Logger.Level(zerolog.FatalLevel)
	default:
		z.Logger = z.Logger.Level(zerolog.InfoLevel)
	}
}

func (z *ZLoggerWrapper) LogLevel() int {
	return int(z.Logger.GetLevel())
}

func (z *ZLoggerWrapper) Debugf(format string, args ...interface{}) {
	z.Logger.Debug().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Infof(format string, args ...interface{}) {
	z.Logger.Info().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Warnf(format string, args ...interface{}) {
	z.Logger.Warn().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Errorf(format string, args ...interface{}) {
	z.Logger.Error().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Fatalf(format string, args ...interface{}) {
	z.Logger.Fatal().Msgf(format, args...)
}
