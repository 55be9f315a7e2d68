package broker

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"abstream/config"
	"abstream/logger"

	kafka "github.com/segmentio/kafka-go"
)

// Topic names. Intake is routed by priority across three topics so high
// priority chapters are never queued behind bulk work; deletions arrive on
// their own topic.
const (
	TopicTranscodePriority = "audiobook.transcode.priority"
	TopicTranscodeNormal   = "audiobook.transcode.normal"
	TopicTranscodeLow      = "audiobook.transcode.low"
	TopicChapterDeleted    = "audiobook.chapters.deleted"
)

// IntakeTopics lists the priority-routed transcode topics.
var IntakeTopics = []string{TopicTranscodePriority, TopicTranscodeNormal, TopicTranscodeLow}

// IntakeTopicFor maps a message priority to its topic.
func IntakeTopicFor(priority string) string {
	switch priority {
	case "high":
		return TopicTranscodePriority
	case "low":
		return TopicTranscodeLow
	default:
		return TopicTranscodeNormal
	}
}

// Client wraps kafka-go writers and readers for the intake and deletion
// topics. Writers are created lazily per topic and reused.
type Client struct {
	brokers  []string
	clientID string
	dialer   *kafka.Dialer
	writers  sync.Map // topic -> *kafka.Writer
}

// NewClient creates a broker client from configuration. The connection is
// lazy; use Ping to verify reachability.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		brokers:  cfg.KafkaBrokers,
		clientID: cfg.KafkaClientID,
		dialer: &kafka.Dialer{
			Timeout:  10 * time.Second,
			ClientID: cfg.KafkaClientID,
		},
	}
}

// Ping dials the first broker to verify reachability.
func (c *Client) Ping(ctx context.Context) error {
	if len(c.brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}
	conn, err := c.dialer.DialContext(ctx, "tcp", c.brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", c.brokers[0], err)
	}
	return conn.Close()
}

// Close closes all cached writers.
func (c *Client) Close() {
	c.writers.Range(func(key, value interface{}) bool {
		if w, ok := value.(*kafka.Writer); ok {
			_ = w.Close()
		}
		return true
	})
}

// Writer returns the shared writer for a topic.
func (c *Client) Writer(topic string) *kafka.Writer {
	if v, ok := c.writers.Load(topic); ok {
		return v.(*kafka.Writer)
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(c.brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
	actual, _ := c.writers.LoadOrStore(topic, w)
	return actual.(*kafka.Writer)
}

// Produce publishes a keyed message to a topic.
func (c *Client) Produce(ctx context.Context, topic string, key, value []byte) error {
	msg := kafka.Message{Key: key, Value: value, Time: time.Now()}
	return c.Writer(topic).WriteMessages(ctx, msg)
}

// Reader creates a consumer-group reader for a topic.
func (c *Client) Reader(topic, groupID string) *kafka.Reader {
	logger.Info("kafka reader created",
		logger.String("topic", topic),
		logger.String("group", groupID))
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.brokers,
		GroupID:  groupID,
		Topic:    topic,
		Dialer:   c.dialer,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})
}

// EnsureTopic creates the topic if it does not exist.
func (c *Client) EnsureTopic(topic string, numPartitions, replicationFactor int) error {
	if len(c.brokers) == 0 {
		return nil
	}
	conn, err := kafka.Dial("tcp", c.brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	cc, err := kafka.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer cc.Close()

	return cc.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: replicationFactor,
	})
}

// EnsureTopology creates every topic this service consumes or produces.
func (c *Client) EnsureTopology() error {
	topics := append([]string{}, IntakeTopics...)
	topics = append(topics, TopicChapterDeleted)
	for _, t := range topics {
		if err := c.EnsureTopic(t, 1, 1); err != nil {
			return fmt.Errorf("ensure topic %s: %w", t, err)
		}
	}
	return nil
}
