package mqtt

import "log"

// outMsg is a serialized MQTT message waiting for the broker.
type outMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while the broker is unreachable.
//
// Phase events queue in a bounded FIFO that drops the oldest entry when full,
// so a long outage replays the latest phases. Retained messages describe
// current state, so only the newest one per topic is kept and replayed first.
// Not safe for concurrent use; the caller must synchronize.
type outbox struct {
	queue    []outMsg
	first    int // index of the oldest queued message
	n        int
	retained map[string]outMsg
	topics   []string // retained topics in first-seen order

	dropped     uint64 // queued messages evicted since creation
	overflowing bool   // an eviction happened since the last drain
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{
		queue:    make([]outMsg, capacity),
		retained: make(map[string]outMsg),
	}
}

func (o *outbox) add(m outMsg) {
	if m.retained {
		if _, ok := o.retained[m.topic]; !ok {
			o.topics = append(o.topics, m.topic)
		}
		o.retained[m.topic] = m
		return
	}

	size := len(o.queue)
	if o.n < size {
		o.queue[(o.first+o.n)%size] = m
		o.n++
		return
	}
	if !o.overflowing {
		log.Printf("mqtt: offline buffer full (%d messages), dropping oldest", size)
		o.overflowing = true
	}
	o.dropped++
	o.queue[o.first] = m
	o.first = (o.first + 1) % size
}

// drain returns retained messages followed by the queue, oldest first, and
// empties the outbox.
func (o *outbox) drain() []outMsg {
	if o.pending() == 0 {
		return nil
	}

	out := make([]outMsg, 0, o.pending())
	for _, topic := range o.topics {
		out = append(out, o.retained[topic])
	}
	for i := 0; i < o.n; i++ {
		out = append(out, o.queue[(o.first+i)%len(o.queue)])
	}

	o.first, o.n = 0, 0
	o.topics = o.topics[:0]
	o.retained = make(map[string]outMsg)
	o.overflowing = false
	return out
}

func (o *outbox) pending() int {
	return o.n + len(o.topics)
}
