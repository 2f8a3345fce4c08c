package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	Fatal(format string, v ...interface{})
}

type logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger returns a console logger; level follows Options.DebugLevel, where
// 0 logs only errors and 3 logs everything.
func NewLogger(level int) Logger {
	zl := zapcore.ErrorLevel
	switch level {
	case 3:
		zl = zapcore.DebugLevel
	case 2:
		zl = zapcore.InfoLevel
	case 1:
		zl = zapcore.WarnLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	cfg.Sampling = nil
	zlog, err := cfg.Build()
	if err != nil {
		zlog = zap.NewExample()
	}
	return &logger{zlog.Sugar()}
}

func newZapLogger(l *zap.Logger) Logger {
	return &logger{l.Sugar()}
}

func (l *logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

func (l *logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

func (l *logger) Warn(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

func (l *logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

func (l *logger) Fatal(format string, v ...interface{}) {
	l.sugar.Fatalf(format, v...)
}
