package telemetry

import "go.uber.org/zap"

// NewLogger builds the process-wide structured logger. Production builds use
// zap's JSON encoder; callers needing human-readable output during local
// development can swap this for zap.NewDevelopment in main.
func NewLogger(serviceName string) (*zap.Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", serviceName)), nil
}
