package journal

import (
	"context"
	"log"
	"time"

	"github.com/EelcoLos/iframe-dnd-demo-sub000/relay"
)

const recordTimeout = 2 * time.Second

// Observer returns a relay.WithObserver callback writing every message the
// manager accepts to j, relayed ones included. Record failures are logged.
func Observer(j Journal) func(relay.Message) {
	return func(msg relay.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := j.Record(ctx, msg); err != nil {
			log.Printf("Journal: %v", err)
		}
	}
}
