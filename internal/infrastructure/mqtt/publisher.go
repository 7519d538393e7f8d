package mqtt

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/config"
	"github.com/nerrad567/lakeshore-logger/internal/scheduler"
)

// Publisher is the part of Client the cycle publisher needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// SourceReadings is the retained latest-value message for one source.
type SourceReadings struct {
	Source    string              `json:"source" msgpack:"source"`
	Cycle     uint64              `json:"cycle" msgpack:"cycle"`
	Timestamp string              `json:"timestamp" msgpack:"timestamp"`
	Readings  map[string]*float64 `json:"readings" msgpack:"readings"`
	Warnings  []string            `json:"warnings,omitempty" msgpack:"warnings,omitempty"`
}

// CyclePublisher is a scheduler.Sink that publishes each cycle and the
// per-source latest readings.
type CyclePublisher struct {
	pub    Publisher
	topics Topics
	qos    byte
	encode Encoder
}

// NewCyclePublisher builds a publisher from the MQTT config.
func NewCyclePublisher(pub Publisher, cfg config.MQTTConfig) (*CyclePublisher, error) {
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	encode, err := EncoderFor(cfg.PayloadFormat)
	if err != nil {
		return nil, err
	}
	return &CyclePublisher{
		pub:    pub,
		topics: Topics{Prefix: cfg.TopicPrefix},
		qos:    byte(cfg.QoS),
		encode: encode,
	}, nil
}

// Present publishes the cycle, then one retained message per source.
// Every message is attempted; failures are joined.
func (p *CyclePublisher) Present(_ context.Context, c scheduler.Cycle) error {
	var errs []error

	if err := p.publish(p.topics.Cycle(), c, false); err != nil {
		errs = append(errs, err)
	}

	for _, sr := range groupBySource(c) {
		if err := p.publish(p.topics.Readings(sr.Source), sr, true); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (p *CyclePublisher) publish(topic string, v any, retained bool) error {
	payload, err := p.encode(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", topic, err)
	}
	if err := p.pub.Publish(topic, payload, p.qos, retained); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// groupBySource splits a cycle's rows by source, keeping first-seen order.
func groupBySource(c scheduler.Cycle) []SourceReadings {
	var out []SourceReadings
	index := make(map[string]int)
	for _, r := range c.Rows {
		i, ok := index[r.Source]
		if !ok {
			i = len(out)
			index[r.Source] = i
			out = append(out, SourceReadings{
				Source:    r.Source,
				Cycle:     c.Index,
				Timestamp: c.Timestamp,
				Readings:  make(map[string]*float64),
			})
		}
		out[i].Readings[r.Channel] = r.Value
		if r.Warning != "" && !slices.Contains(out[i].Warnings, r.Warning) {
			out[i].Warnings = append(out[i].Warnings, r.Warning)
		}
	}
	return out
}
