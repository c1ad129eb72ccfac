package publish

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/swetrack-sync/internal/infrastructure/mqtt"
	"github.com/nerrad567/swetrack-sync/internal/tracker"
)

// Broker is the MQTT surface the publisher needs. *mqtt.Client satisfies it.
type Broker interface {
	PublishRetained(topic string, payload []byte) error
	ClearRetained(topic string) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Topics() mqtt.Topics
	QoS() byte
}

// Logger is the logging surface of the sinks.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MQTTPublisher mirrors snapshots onto retained MQTT topics.
type MQTTPublisher struct {
	broker Broker
	topics mqtt.Topics
	status func() tracker.Status
	logger Logger
	now    func() time.Time

	// mu serialises full republishes with incremental ones.
	mu      sync.Mutex
	devices int
}

// NewMQTTPublisher creates a publisher. status supplies the coordinator
// state for the status topic.
func NewMQTTPublisher(broker Broker, status func() tracker.Status, logger Logger) *MQTTPublisher {
	return &MQTTPublisher{
		broker: broker,
		topics: broker.Topics(),
		status: status,
		logger: logger,
		now:    time.Now,
	}
}

// HandleSnapshot publishes every changed device and clears every removed
// one. Register it with tracker.Store.Subscribe.
func (p *MQTTPublisher) HandleSnapshot(snap *tracker.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	published, failed := 0, 0
	for _, id := range snap.Changed() {
		if err := p.publishDevice(snap, id); err != nil {
			failed++
			p.logger.Warn("mqtt device publish failed", "device_id", id, "error", err)
			continue
		}
		published++
	}
	for _, id := range snap.Removed() {
		if err := p.broker.ClearRetained(p.topics.DeviceState(id)); err != nil {
			failed++
			p.logger.Warn("mqtt device clear failed", "device_id", id, "error", err)
		}
	}

	p.logger.Debug("mqtt snapshot published",
		"seq", snap.Seq(), "published", published, "removed", len(snap.Removed()), "failed", failed)
}

// Republish sends the state of every device in snap, for use after the
// broker connection was re-established.
func (p *MQTTPublisher) Republish(snap *tracker.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range snap.IDs() {
		if err := p.publishDevice(snap, id); err != nil {
			p.logger.Warn("mqtt device republish failed", "device_id", id, "error", err)
		}
	}
}

func (p *MQTTPublisher) publishDevice(snap *tracker.Snapshot, id string) error {
	rec, ok := snap.Get(id)
	if !ok {
		return fmt.Errorf("device %s not in snapshot %d", id, snap.Seq())
	}
	payload, err := json.Marshal(newDevicePayload(rec, snap))
	if err != nil {
		return fmt.Errorf("marshalling device payload: %w", err)
	}
	return p.broker.PublishRetained(p.topics.DeviceState(id), payload)
}

// HandleCycle publishes the coordinator status after every cycle. Register
// it with tracker.Coordinator.OnCycle.
func (p *MQTTPublisher) HandleCycle(report tracker.CycleReport) {
	p.mu.Lock()
	if report.Snapshot != nil {
		p.devices = report.Snapshot.Len()
	}
	devices := p.devices
	p.mu.Unlock()

	b, err := json.Marshal(newStatusPayload(p.status(), report, devices, p.now()))
	if err != nil {
		p.logger.Warn("marshalling coordinator status failed", "error", err)
		return
	}
	if err := p.broker.PublishRetained(p.topics.CoordinatorStatus(), b); err != nil {
		p.logger.Warn("mqtt status publish failed", "error", err)
	}
}

// SubscribeRefresh calls refresh for every message on the refresh command
// topic. The payload is ignored.
func (p *MQTTPublisher) SubscribeRefresh(refresh func()) error {
	topic := p.topics.RefreshCommand()
	err := p.broker.Subscribe(topic, p.broker.QoS(), func(string, []byte) error {
		p.logger.Info("refresh requested over mqtt")
		refresh()
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return nil
}
