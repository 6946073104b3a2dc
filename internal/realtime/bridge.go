package realtime

import (
	"encoding/json"

	"rezerv/internal/events"
)

// BindEventBus forwards every committed reservation event from the bus to
// the hub channel named in the payload.
func BindEventBus(bus *events.EventBus, hub *Hub) {
	bus.Subscribe(events.EventReservationChanged, func(event *events.Event) error {
		var payload events.ReservationEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		if payload.Channel == "" {
			return nil
		}
		hub.Publish(payload.Channel, event.Payload)
		return nil
	})
}
