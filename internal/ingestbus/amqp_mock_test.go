package ingestbus

import "github.com/streadway/amqp"

// mockConnection and mockChannel give tests a fake broker without a live
// RabbitMQ, the same dependency-injection shape queue/amqp_mock.go used for
// the publish-only client this bridge's consume-only counterpart replaces.
type mockConnection struct {
	channel    Channel
	channelErr error
	closed     bool
}

func (m *mockConnection) Channel() (Channel, error) {
	if m.channelErr != nil {
		return nil, m.channelErr
	}
	return m.channel, nil
}

func (m *mockConnection) Close() error {
	m.closed = true
	return nil
}

type mockChannel struct {
	queueDeclareErr error
	qosErr          error
	consumeErr      error
	deliveries      chan amqp.Delivery
	closed          bool

	lastQueue    string
	lastPrefetch int
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.lastQueue = name
	if m.queueDeclareErr != nil {
		return amqp.Queue{}, m.queueDeclareErr
	}
	return amqp.Queue{Name: name}, nil
}

func (m *mockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	m.lastPrefetch = prefetchCount
	return m.qosErr
}

func (m *mockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if m.consumeErr != nil {
		return nil, m.consumeErr
	}
	return m.deliveries, nil
}

func (m *mockChannel) Close() error {
	m.closed = true
	return nil
}

type mockDialer struct {
	conn Connection
	err  error
}

func (d *mockDialer) Dial(url string) (Connection, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

// fakeAcknowledger records Ack/Nack/Reject calls so tests can assert on
// them; amqp.Delivery.Ack/Nack panic against a nil Acknowledger, so every
// delivery built in tests must carry one of these.
type fakeAcknowledger struct {
	acked   []uint64
	nacked  []uint64
	requeue []bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = append(f.nacked, tag)
	f.requeue = append(f.requeue, requeue)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return nil
}
