package mqtt

import (
	"fmt"
	"strings"
)

// DefaultPrefix is the broadcast topic root when none is configured.
const DefaultPrefix = "station/events"

// statusRoot sits outside every event tree so status messages are never
// mistaken for change events.
const statusRoot = "instrument-station"

// Topics builds the station's MQTT topic names.
//
// Change events for object path "d1.ch1.gain" are published on
// "<Prefix>/d1/ch1/gain", so subscribers can filter with ordinary MQTT
// wildcards ("<Prefix>/d1/#" for one instrument).
//
//	topics := mqtt.Topics{Prefix: "lab/bench-3", StationID: "bench-3"}
//	topics.Event("d1.x")  // "lab/bench-3/d1/x"
//	topics.AllEvents()    // "lab/bench-3/#"
type Topics struct {
	Prefix    string
	StationID string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Event returns the topic carrying change events for a dotted object path.
func (t Topics) Event(path string) string {
	return t.prefix() + "/" + strings.ReplaceAll(path, ".", "/")
}

// AllEvents returns the wildcard matching every change event.
func (t Topics) AllEvents() string {
	return t.prefix() + "/#"
}

// EventsUnder returns the wildcard matching path and everything beneath it.
func (t Topics) EventsUnder(path string) string {
	if path == "" {
		return t.AllEvents()
	}
	return t.Event(path) + "/#"
}

// PathFromTopic reverses Event. It reports false for topics outside the
// event tree.
func (t Topics) PathFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/")
	if !ok || rest == "" {
		return "", false
	}
	return strings.ReplaceAll(rest, "/", "."), true
}

// Status returns the retained online/offline topic for this station.
//
// Example: instrument-station/bench-3/status
func (t Topics) Status() string {
	id := t.StationID
	if id == "" {
		id = "default"
	}
	return fmt.Sprintf("%s/%s/status", statusRoot, id)
}
