package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.SugaredLogger
}

type Config struct {
	LogLevel string
	DevMode  bool

	// OutputPath receives every entry at LogLevel or above. Defaults to
	// stdout.
	OutputPath string

	// ErrorOutputPath additionally receives error entries. Empty or equal to
	// OutputPath means errors only go to OutputPath.
	ErrorOutputPath string
}

func NewLogger(config Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)
	if config.DevMode {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	outputPath := config.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	out, closeOut, err := zap.Open(outputPath)
	if err != nil {
		return nil, err
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, out, zap.NewAtomicLevelAt(level))}

	if config.ErrorOutputPath != "" && config.ErrorOutputPath != outputPath {
		errOut, _, err := zap.Open(config.ErrorOutputPath)
		if err != nil {
			closeOut()
			return nil, err
		}
		errLevel := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapcore.ErrorLevel && l >= level
		})
		cores = append(cores, zapcore.NewCore(encoder.Clone(), errOut, errLevel))
	}

	zapLogger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if config.DevMode {
		zapLogger = zapLogger.WithOptions(zap.Development())
	}

	sugar := zapLogger.Sugar()
	return &Logger{sugar}, nil
}

func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}
