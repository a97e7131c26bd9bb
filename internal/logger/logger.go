package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	log   = newLogger(zapcore.Lock(os.Stderr))
)

func newLogger(out zapcore.WriteSyncer) *zap.SugaredLogger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), out, level)
	return zap.New(core).Sugar()
}

func Init(debug bool) {
	if debug {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(out zapcore.WriteSyncer) {
	log = newLogger(out)
}

func DebugEnabled() bool {
	return level.Enabled(zapcore.DebugLevel)
}

func Debug(format string, v ...interface{}) {
	log.Debugf(format, v...)
}

func Info(format string, v ...interface{}) {
	log.Infof(format, v...)
}

func Warn(format string, v ...interface{}) {
	log.Warnf(format, v...)
}

func Error(format string, v ...interface{}) {
	log.Errorf(format, v...)
}

func Fatal(format string, v ...interface{}) {
	log.Errorf(format, v...)
	_ = log.Sync()
	os.Exit(1)
}

func Sync() {
	_ = log.Sync()
}
