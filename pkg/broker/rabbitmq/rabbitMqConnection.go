package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/detector"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

func init() {
	_ = detector.RegisterCapability(detector.DefaultCapabilities[messaging.RabbitMQ])
}

const defaultPoolSize = 5

// Channel is the part of *amqp.Channel used by templates and containers.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Connection is the part of *amqp.Connection the manager needs.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	return c.Connection.Channel()
}

// DialFunc defines a function type for opening connections.
type DialFunc func(url string) (Connection, error)

// Dial is the default DialFunc.
var Dial DialFunc = func(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

type pooledChannel struct {
	channel     Channel
	notifyClose chan *amqp.Error
	confirms    chan amqp.Confirmation
}

// ConnectionManager owns the connection, the publisher channel pools and reconnection.
// Confirm-mode and plain channels are pooled separately so one-way publishes never
// leave confirmations behind for a waiting sender.
type ConnectionManager struct {
	url             string
	poolSize        int
	exchangeType    string
	connection      Connection
	confirmPool     chan *pooledChannel
	plainPool       chan *pooledChannel
	declared        map[string]bool
	mu              sync.Mutex
	closed          bool
	reconnectTicker *time.Ticker
	stopReconnect   chan struct{}
	logger          zerolog.Logger
}

func NewConnectionManager(settings *config.RabbitMQSettings, logger zerolog.Logger) (*ConnectionManager, error) {
	poolSize := settings.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	exchangeType := settings.ExchangeType
	if exchangeType == "" {
		exchangeType = amqp.ExchangeTopic
	}

	m := &ConnectionManager{
		url:             settings.URL,
		poolSize:        poolSize,
		exchangeType:    exchangeType,
		reconnectTicker: time.NewTicker(5 * time.Second),
		stopReconnect:   make(chan struct{}),
		logger:          logger.With().Str("type", messaging.RabbitMQ.String()).Logger(),
	}
	if err := m.connectAndInitialize(); err != nil {
		m.reconnectTicker.Stop()
		return nil, err
	}

	go m.recoverConnection()
	return m, nil
}

func (m *ConnectionManager) connectAndInitialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connection != nil && !m.connection.IsClosed() {
		_ = m.connection.Close()
	}

	connection, err := Dial(m.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	notifyClose := connection.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		for err := range notifyClose {
			m.logger.Warn().Err(err).Msg("connection closed")
		}
	}()
	m.connection = connection

	m.confirmPool = make(chan *pooledChannel, m.poolSize)
	m.plainPool = make(chan *pooledChannel, m.poolSize)
	m.declared = map[string]bool{}

	for i := 0; i < m.poolSize; i++ {
		pc, err := openChannel(connection, false)
		if err != nil {
			return err
		}
		m.plainPool <- pc
	}

	m.logger.Info().Int("pool_size", m.poolSize).Msg("connection and channel pool initialized")
	return nil
}

func openChannel(conn Connection, confirm bool) (*pooledChannel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	pc := &pooledChannel{
		channel:     ch,
		notifyClose: ch.NotifyClose(make(chan *amqp.Error, 1)),
	}
	if confirm {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
		pc.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}
	return pc, nil
}

func (m *ConnectionManager) recoverConnection() {
	for {
		select {
		case <-m.reconnectTicker.C:
			m.mu.Lock()
			lost := !m.closed && (m.connection == nil || m.connection.IsClosed())
			m.mu.Unlock()
			if lost {
				m.logger.Info().Msg("attempting to reconnect")
				if err := m.connectAndInitialize(); err != nil {
					m.logger.Error().Err(err).Msg("failed to reconnect")
				} else {
					m.logger.Info().Msg("reconnected")
				}
			}
		case <-m.stopReconnect:
			return
		}
	}
}

// channel opens a dedicated, unpooled channel.
func (m *ConnectionManager) channel() (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("connection manager is closed")
	}
	return m.connection.Channel()
}

func (m *ConnectionManager) getChannel(confirm bool) (*pooledChannel, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("connection manager is closed")
	}
	pool, conn := m.plainPool, m.connection
	if confirm {
		pool = m.confirmPool
	}
	m.mu.Unlock()

	for {
		select {
		case pc, ok := <-pool:
			if !ok {
				return nil, errors.New("connection manager is closed")
			}
			select {
			case err := <-pc.notifyClose:
				m.logger.Debug().Err(err).Msg("discarding closed channel")
				continue
			default:
				return pc, nil
			}
		default:
			return openChannel(conn, confirm)
		}
	}
}

func (m *ConnectionManager) releaseChannel(pc *pooledChannel, confirm bool) {
	select {
	case err := <-pc.notifyClose:
		m.logger.Debug().Err(err).Msg("discarding closed channel")
		return
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pool := m.plainPool
	if confirm {
		pool = m.confirmPool
	}
	if m.closed {
		_ = pc.channel.Close()
		return
	}
	select {
	case pool <- pc:
	default:
		_ = pc.channel.Close()
	}
}

// discardChannel drops a channel whose confirm state is unknown.
func (m *ConnectionManager) discardChannel(pc *pooledChannel) {
	_ = pc.channel.Close()
}

// declareExchange declares name once per connection.
func (m *ConnectionManager) declareExchange(ch Channel, name string) error {
	m.mu.Lock()
	done := m.declared[name]
	m.mu.Unlock()
	if done {
		return nil
	}
	if err := ch.ExchangeDeclare(name, m.exchangeType, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", name, err)
	}
	m.mu.Lock()
	m.declared[name] = true
	m.mu.Unlock()
	return nil
}

func waitConfirm(ctx context.Context, pc *pooledChannel) error {
	select {
	case c, ok := <-pc.confirms:
		if !ok {
			return errors.New("channel closed before confirmation")
		}
		if !c.Ack {
			return fmt.Errorf("broker nacked delivery %d", c.DeliveryTag)
		}
		return nil
	case err := <-pc.notifyClose:
		return fmt.Errorf("channel closed before confirmation: %v", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops reconnection, closes pooled channels and the connection.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	close(m.stopReconnect)
	m.reconnectTicker.Stop()

	for _, pool := range []chan *pooledChannel{m.plainPool, m.confirmPool} {
		close(pool)
		for pc := range pool {
			_ = pc.channel.Close()
		}
	}

	if m.connection != nil {
		return m.connection.Close()
	}
	return nil
}
