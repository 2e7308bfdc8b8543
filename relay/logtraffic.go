package relay

import (
	"encoding/json"
	"log"
)

// LogTraffic registers a handler on m for every known message type that
// writes one line per dispatched message to logger. The returned function
// removes those handlers.
func LogTraffic(m *Manager, logger *log.Logger) func() {
	offs := make([]func(), 0, len(KnownTypes))
	for _, t := range KnownTypes {
		t := t
		offs = append(offs, m.On(t, func(data json.RawMessage, source WindowID) error {
			logger.Printf("%s from %s: %s", t, source, data)
			return nil
		}))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}
