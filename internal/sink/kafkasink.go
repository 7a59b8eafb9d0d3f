package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/shortontech/fraudsignal/internal/check"
)

// KafkaConfig configures the outcome producer. Security settings map onto
// librdkafka's sasl.* and ssl.* keys.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	ClientID    string
	Compression string

	// Idempotent turns on enable.idempotence, which forces acks=all.
	Idempotent bool

	SecurityProtocol string // derived from the SASL/TLS settings when empty
	SASLMechanism    string
	SASLUser         string
	SASLPassword     string
	TLSCAPath        string
	TLSSkipVerify    bool
}

// KafkaSink produces outcomes to Kafka with key=check_id so a retried
// delivery lands on the same partition.
type KafkaSink struct {
	config   KafkaConfig
	producer *kafka.Producer
	logger   *slog.Logger
}

// NewKafkaSinkFromEnv reads the KAFKA_* variables.
func NewKafkaSinkFromEnv() *KafkaSink {
	return &KafkaSink{
		config: KafkaConfig{
			Brokers:          splitCSV(getEnvOr("KAFKA_BROKERS", "localhost:9092")),
			Topic:            getEnvOr("KAFKA_TOPIC", "fraudsignal.checks"),
			ClientID:         getEnvOr("KAFKA_CLIENT_ID", "fraudsignal"),
			Compression:      getEnvOr("KAFKA_COMPRESSION", "zstd"),
			Idempotent:       getBoolEnv("KAFKA_IDEMPOTENT", true),
			SecurityProtocol: os.Getenv("KAFKA_SECURITY_PROTOCOL"),
			SASLMechanism:    os.Getenv("KAFKA_SASL_MECHANISM"),
			SASLUser:         os.Getenv("KAFKA_SASL_USER"),
			SASLPassword:     os.Getenv("KAFKA_SASL_PASSWORD"),
			TLSCAPath:        os.Getenv("KAFKA_TLS_CA"),
			TLSSkipVerify:    getBoolEnv("KAFKA_TLS_SKIP_VERIFY", false),
		},
		logger: slog.Default(),
	}
}

// NewKafkaSink creates a plaintext idempotent producer for topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		config: KafkaConfig{
			Brokers:    brokers,
			Topic:      topic,
			ClientID:   "fraudsignal",
			Idempotent: true,
		},
		logger: slog.Default(),
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) securityProtocol() string {
	c := s.config
	switch {
	case c.SecurityProtocol != "":
		return c.SecurityProtocol
	case c.SASLMechanism != "" && c.TLSCAPath == "" && !c.TLSSkipVerify:
		return "SASL_PLAINTEXT"
	case c.SASLMechanism != "":
		return "SASL_SSL"
	case c.TLSCAPath != "" || c.TLSSkipVerify:
		return "SSL"
	}
	return "PLAINTEXT"
}

func (s *KafkaSink) configMap() kafka.ConfigMap {
	c := s.config
	cm := kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(c.Brokers, ","),
		"client.id":          c.ClientID,
		"security.protocol":  s.securityProtocol(),
		"enable.idempotence": c.Idempotent,
		// one check per submit: keep latency low rather than batching hard
		"linger.ms":          5,
		"message.timeout.ms": 30000,
	}
	if !c.Idempotent {
		cm["acks"] = "1"
	}
	if c.Compression != "" && c.Compression != "none" {
		cm["compression.type"] = c.Compression
	}
	if c.SASLMechanism != "" {
		cm["sasl.mechanism"] = c.SASLMechanism
		cm["sasl.username"] = c.SASLUser
		cm["sasl.password"] = c.SASLPassword
	}
	if c.TLSCAPath != "" {
		cm["ssl.ca.location"] = c.TLSCAPath
	}
	if c.TLSSkipVerify {
		cm["enable.ssl.certificate.verification"] = false
		cm["ssl.endpoint.identification.algorithm"] = "none"
	}
	return cm
}

func (s *KafkaSink) Start(ctx context.Context) error {
	configMap := s.configMap()
	producer, err := kafka.NewProducer(&configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	s.producer = producer
	go s.handleDeliveryReports(ctx)
	return nil
}

// message builds the Kafka record for o.
func (s *KafkaSink) message(o check.Outcome) (*kafka.Message, error) {
	value, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize outcome: %w", err)
	}
	outcome := o.Error
	if outcome == "" {
		outcome = "ok"
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &s.config.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(o.CheckID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(o.Source)},
			{Key: "outcome", Value: []byte(outcome)},
			{Key: "status", Value: []byte(strconv.Itoa(o.StatusCode))},
			{Key: "schema", Value: []byte("v1")},
		},
	}, nil
}

func (s *KafkaSink) Enqueue(o check.Outcome) error {
	if s.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	msg, err := s.message(o)
	if err != nil {
		return err
	}
	if err := s.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if s.producer == nil {
		return nil
	}

	// wait up to 10 seconds for outstanding deliveries
	remaining := s.producer.Flush(10 * 1000)
	s.producer.Close()
	if remaining > 0 {
		return fmt.Errorf("failed to flush %d remaining messages", remaining)
	}
	return nil
}

func (s *KafkaSink) handleDeliveryReports(ctx context.Context) {
	events := s.producer.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					s.logger.Warn("kafka delivery failed", "check_id", string(e.Key), "error", e.TopicPartition.Error)
				}
			case kafka.Error:
				s.logger.Warn("kafka client error", "code", e.Code().String(), "error", e)
			}
		}
	}
}
