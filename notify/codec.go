package notify

import (
	"encoding/json"
	"fmt"
)

func marshal(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("notify: marshal event: %w", err)
	}
	return data, nil
}

// Decode parses an event published by Redis.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("notify: decode event: %w", err)
	}
	return ev, nil
}
