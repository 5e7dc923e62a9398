package log

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process wide logger. It discards everything until InitLogger is called.
var Logger = zap.NewNop()

// Conf controls how InitLogger builds Logger.
type Conf struct {
	Level    string `toml:"level" ini:"level"`
	Encoding string `toml:"encoding" ini:"encoding"` // json or console
	Location string `toml:"location" ini:"location"` // IANA zone used for timestamps, empty means local
}

func InitLogger(conf Conf) error {
	location := time.Local
	if conf.Location != "" {
		loc, err := time.LoadLocation(conf.Location)
		if err != nil {
			return fmt.Errorf("load log location %q: %w", conf.Location, err)
		}
		location = loc
	}

	var config zap.Config
	switch conf.Encoding {
	case "", "json":
		config = zap.NewProductionConfig()
	case "console":
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return fmt.Errorf("unknown log encoding %q", conf.Encoding)
	}

	if conf.Level != "" {
		level, err := zap.ParseAtomicLevel(conf.Level)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		config.Level = level
	}

	config.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.In(location).Format(time.RFC3339))
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}
	Logger = logger
	return nil
}

// Sync flushes buffered entries. Errors from syncing stderr on some platforms are ignored.
func Sync() {
	_ = Logger.Sync()
}
