package env

import (
	zap "go.uber.org/zap"
)

// MakeLogger builds the production JSON logger. An empty level means info.
func MakeLogger(level string) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	logConfig.Encoding = "json"

	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}

		logConfig.Level = lvl
	}

	return logConfig.Build()
}
