package observe

import (
	"github.com/praxislabs/agentbus/logging"
	"github.com/praxislabs/agentbus/message"
)

// LogObserver writes transitions through the logging package.
type LogObserver struct {
	logger *logging.Logger
}

// NewLogObserver creates an observer backed by the given logger.
// Pass nil to use a default logger.
func NewLogObserver(logger *logging.Logger) *LogObserver {
	if logger == nil {
		logger = logging.New()
	}
	return &LogObserver{logger: logger.WithComponent("bus")}
}

// OnTransition implements Observer.
func (o *LogObserver) OnTransition(t Transition) {
	fields := map[string]interface{}{
		"id":      t.MessageID,
		"agent":   t.Agent,
		"from":    t.From.String(),
		"to":      t.To.String(),
		"attempt": t.Attempt,
	}
	if t.CorrelationID != "" {
		fields["correlation_id"] = t.CorrelationID
	}
	if t.Error != "" {
		fields["error"] = t.Error
	}

	switch t.To {
	case message.StatusDeadLetter:
		o.logger.Error("transition", fields)
	case message.StatusFailed:
		o.logger.Warn("transition", fields)
	default:
		o.logger.Debug("transition", fields)
	}
}
