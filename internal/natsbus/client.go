package natsbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mtzanidakis/swarmvote/internal/config"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ConnectionError reports that the broker could not be reached or the round
// stream could not be set up. It is never retried here.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to broker %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Feed is a lazy sequence of payloads published on one topic. Messages are
// delivered at least once; the channel is never closed, callers stop reading
// when they are done and call Stop.
type Feed interface {
	Messages() <-chan []byte
	Stop()
}

// Client publishes to and replays round subjects through JetStream. Every
// topic is captured by one stream, so a subscriber that joins late still sees
// messages published before it subscribed.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	url    string
	stream string
}

func NewClient(ctx context.Context, bus *Bus) (*Client, error) {
	return NewClientFromURL(ctx, bus.Config())
}

func NewClientFromURL(ctx context.Context, cfg config.NATSConfig) (*Client, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("swarmvote"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, &ConnectionError{URL: cfg.URL, Err: err}
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{URL: cfg.URL, Err: fmt.Errorf("jetstream: %w", err)}
	}

	c := &Client{conn: conn, js: js, url: cfg.URL, stream: cfg.Stream}
	if err := c.ensureStream(ctx, cfg); err != nil {
		conn.Close()
		return nil, &ConnectionError{URL: cfg.URL, Err: err}
	}
	return c, nil
}

func (c *Client) ensureStream(ctx context.Context, cfg config.NATSConfig) error {
	sc := jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{SubjectAll},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    cfg.MaxAge,
	}
	_, err := c.js.CreateOrUpdateStream(ctx, sc)
	if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		// Another robot created it between our lookup and create.
		_, err = c.js.Stream(ctx, cfg.Stream)
	}
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}
	return nil
}

// Publish stores payload on topic and waits for the stream acknowledgement.
func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
	if _, err := c.js.Publish(ctx, topic, data); err != nil {
		return c.brokerError(ctx, fmt.Errorf("publish %s: %w", topic, err))
	}
	return nil
}

// Subscribe replays every message stored on topic and then follows new ones.
func (c *Client) Subscribe(ctx context.Context, topic string) (Feed, error) {
	cons, err := c.js.OrderedConsumer(ctx, c.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{topic},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, c.brokerError(ctx, fmt.Errorf("create consumer for %s: %w", topic, err))
	}

	sub := &subscription{
		ch:   make(chan []byte, 64),
		done: make(chan struct{}),
	}
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case sub.ch <- msg.Data():
		case <-sub.done:
		}
	})
	if err != nil {
		return nil, c.brokerError(ctx, fmt.Errorf("consume %s: %w", topic, err))
	}
	sub.cc = cc
	return sub, nil
}

// brokerError reports a failed broker call as a ConnectionError unless it
// failed only because ctx ended.
func (c *Client) brokerError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return &ConnectionError{URL: c.url, Err: err}
}

func (c *Client) Close() {
	c.conn.Close()
}

type subscription struct {
	ch   chan []byte
	done chan struct{}
	cc   jetstream.ConsumeContext
	once sync.Once
}

func (s *subscription) Messages() <-chan []byte {
	return s.ch
}

func (s *subscription) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.cc.Stop()
	})
}
