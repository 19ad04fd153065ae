package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/signal-controller/internal/logic"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 256

// RealPublisher publishes to an actual MQTT broker and subscribes the vehicle feed.
// Messages published while the connection is down are buffered and replayed
// on reconnect.
type RealPublisher struct {
	client paho.Client

	mu            sync.Mutex
	buffer        *outbox
	handler       func(VehicleEvent)
	connectedOnce bool
}

// NewRealPublisher creates a publisher connected to the given broker.
// If the broker is not reachable within the connect timeout the publisher is
// still returned; it keeps retrying in the background and buffers meanwhile.
func NewRealPublisher(broker, clientID string, bufferSize int) (*RealPublisher, error) {
	p := &RealPublisher{buffer: newOutbox(bufferSize)}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetMaxReconnectInterval(30*time.Second).
		SetBinaryWill(TopicSystem, WillPayload(), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost, will auto-reconnect: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, buffering until connected", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// onConnect replays buffered messages and restores the vehicle subscription.
// Paho calls it on its own goroutine for every (re)connection.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.connectedOnce
	p.connectedOnce = true
	pending := p.buffer.drain()
	handler := p.handler
	p.mu.Unlock()

	log.Printf("mqtt: connected (reconnect=%v, replaying %d buffered messages)", reconnect, len(pending))

	if handler != nil {
		if err := p.subscribe(handler); err != nil {
			log.Printf("mqtt: resubscribe vehicles: %v", err)
		}
	}

	for _, m := range pending {
		if err := p.send(m); err != nil {
			log.Printf("mqtt: replay to %s: %v", m.topic, err)
		}
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		if err := p.send(outMsg{topic: TopicSystem, payload: payload, qos: 1}); err != nil {
			log.Printf("mqtt: publish reconnected event: %v", err)
		}
	}
}

// Publish sends a phase change event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.PhaseEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.publish(outMsg{topic: Topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.publish(outMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(m outMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buffer.add(m)
		p.mu.Unlock()
		return nil
	}
	return p.send(m)
}

func (p *RealPublisher) send(m outMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// SubscribeVehicles registers handler for the vehicle feed topic. The
// subscription is restored after every reconnect.
func (p *RealPublisher) SubscribeVehicles(handler func(VehicleEvent)) error {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()

	if !p.client.IsConnectionOpen() {
		// onConnect subscribes once the broker is reachable
		return nil
	}
	return p.subscribe(handler)
}

func (p *RealPublisher) subscribe(handler func(VehicleEvent)) error {
	token := p.client.Subscribe(TopicVehicles, 1, func(_ paho.Client, m paho.Message) {
		dispatchVehicleMessage(m.Payload(), handler)
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicVehicles, err)
	}
	return nil
}

// dispatchVehicleMessage parses a vehicle message and hands it to handler.
// Malformed payloads are logged and dropped.
func dispatchVehicleMessage(payload []byte, handler func(VehicleEvent)) {
	ev, err := ParseVehiclePayload(payload)
	if err != nil {
		log.Printf("mqtt: dropping vehicle message: %v", err)
		return
	}
	handler(ev)
}

// IsConnected reports whether the broker connection is currently up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for the connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.pending()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
