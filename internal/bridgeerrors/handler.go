package bridgeerrors

import "github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/logging"

// Handler centralises error logging so call sites don't each have to
// know how to format a typed error.
type Handler struct {
	log logging.ILogger
}

// NewHandler creates a Handler using the given logger.
func NewHandler(log logging.ILogger) *Handler {
	return &Handler{log: log}
}

// Handle logs err at a level derived from its severity. nil is a no-op.
func (h *Handler) Handle(err error) {
	if err == nil {
		return
	}

	switch SeverityOf(err) {
	case SeverityCritical:
		h.log.Error("CRITICAL: %v", err)
	case SeverityError:
		h.log.Error("%v", err)
	case SeverityWarning:
		h.log.Warn("%v", err)
	default:
		h.log.Info("%v", err)
	}
}
