package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "lakeshore"

// Topics builds the logger's MQTT topics under a prefix.
//
//	topics := mqtt.Topics{Prefix: "lab3/lakeshore"}
//	topics.Readings("LS336") // "lab3/lakeshore/readings/LS336"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// Cycle returns the topic every cycle is published on.
//
// Example: lakeshore/cycle
func (t Topics) Cycle() string {
	return t.prefix() + "/cycle"
}

// Readings returns the retained topic for one source's latest readings.
//
// Example: lakeshore/readings/LS336
func (t Topics) Readings(source string) string {
	return t.prefix() + "/readings/" + segment(source)
}

// SystemStatus returns the retained online/offline topic (also the LWT).
//
// Example: lakeshore/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// segment makes s safe as a single topic level: wildcards and separators
// become underscores.
func segment(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}
