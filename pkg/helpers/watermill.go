package helpers

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillZerologAdapter routes the event router's internal logging to
// zerolog, tagged with component=watermill.
type WatermillZerologAdapter struct {
	logger zerolog.Logger
}

func NewWatermill(logger zerolog.Logger) *WatermillZerologAdapter {
	return &WatermillZerologAdapter{
		logger: logger.With().Str("component", "watermill").Logger(),
	}
}

// emit skips two frames so the caller is the watermill call site.
func emit(e *zerolog.Event, msg string, fields watermill.LogFields) {
	e.Fields(map[string]interface{}(fields)).Caller(2).Msg(msg)
}

func (w *WatermillZerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	emit(w.logger.Error().Err(err), msg, fields)
}

// Info is logged at debug level, watermill is chatty.
func (w *WatermillZerologAdapter) Info(msg string, fields watermill.LogFields) {
	emit(w.logger.Debug(), msg, fields)
}

func (w *WatermillZerologAdapter) Debug(msg string, fields watermill.LogFields) {
	emit(w.logger.Debug(), msg, fields)
}

func (w *WatermillZerologAdapter) Trace(msg string, fields watermill.LogFields) {
	emit(w.logger.Trace(), msg, fields)
}

func (w *WatermillZerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillZerologAdapter{logger: w.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}

var _ watermill.LoggerAdapter = &WatermillZerologAdapter{}
