package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerEntry struct {
	Messages  []string
	Timestamp time.Time
}

// Logger is a thin prefix-carrying wrapper around zap. When created with a channel sink the
// formatted lines are additionally delivered to that channel so the simulator can render them.
type Logger struct {
	Logs   chan LoggerEntry
	prefix string
	sugar  *zap.SugaredLogger
}

// channelCore forwards every log line into a LoggerEntry channel. Entries are dropped when the
// channel is full so a stalled renderer cannot block consensus goroutines.
type channelCore struct {
	zapcore.LevelEnabler
	encoder zapcore.Encoder
	sink    chan LoggerEntry
}

func newChannelCore(sink chan LoggerEntry) *channelCore {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.TimeKey = ""
	encoderConfig.LevelKey = ""
	return &channelCore{
		LevelEnabler: zapcore.DebugLevel,
		encoder:      zapcore.NewConsoleEncoder(encoderConfig),
		sink:         sink,
	}
}

func (core *channelCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *core
	clone.encoder = core.encoder.Clone()
	for _, field := range fields {
		field.AddTo(clone.encoder)
	}
	return &clone
}

func (core *channelCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if core.Enabled(entry.Level) {
		return checked.AddCore(entry, core)
	}
	return checked
}

func (core *channelCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buffer, err := core.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	message := buffer.String()
	buffer.Free()
	if len(message) > 0 && message[len(message)-1] == '\n' {
		message = message[:len(message)-1]
	}

	select {
	case core.sink <- LoggerEntry{Messages: []string{message}, Timestamp: entry.Time}:
	default:
	}
	return nil
}

func (core *channelCore) Sync() error { return nil }

// CreateLogger returns a logger tagged with prefix. A nil logs channel yields a plain
// stderr console logger.
func CreateLogger(prefix string, logs chan LoggerEntry) *Logger {
	var core zapcore.Core
	if logs != nil {
		core = newChannelCore(logs)
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		core = zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.Lock(os.Stderr),
			zapcore.DebugLevel,
		)
	}

	return &Logger{
		Logs:   logs,
		prefix: prefix,
		sugar:  zap.New(core).Sugar(),
	}
}

func (logg *Logger) Log(message string) {
	logg.sugar.Infof("%s %s", logg.prefix, message)
}

func (logg *Logger) Logf(format string, args ...interface{}) {
	logg.Log(fmt.Sprintf(format, args...))
}

func (logg *Logger) LogMultiple(messages []string) {
	for _, message := range messages {
		logg.Log(message)
	}
}
