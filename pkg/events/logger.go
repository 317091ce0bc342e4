package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

type zerologAdapter struct {
	logger zerolog.Logger
	fields watermill.LogFields
}

var _ watermill.LoggerAdapter = (*zerologAdapter)(nil)

// NewWatermillLogger routes watermill's internal logging into zerolog.
func NewWatermillLogger(l zerolog.Logger) watermill.LoggerAdapter {
	return &zerologAdapter{logger: l}
}

func (a *zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.write(a.logger.Error().Err(err), fields, msg)
}

func (a *zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.write(a.logger.Info(), fields, msg)
}

func (a *zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.write(a.logger.Debug(), fields, msg)
}

func (a *zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.write(a.logger.Trace(), fields, msg)
}

func (a *zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zerologAdapter{logger: a.logger, fields: a.fields.Add(fields)}
}

func (a *zerologAdapter) write(e *zerolog.Event, fields watermill.LogFields, msg string) {
	if e == nil {
		return
	}
	e.Fields(map[string]interface{}(a.fields.Add(fields))).Msg(msg)
}
