package logger

import "go.uber.org/zap"

// New returns a development logger (console, debug level) or the JSON
// production logger.
func New(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
