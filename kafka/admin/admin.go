package admin

import (
	"context"
	"errors"
	"fmt"
	"net"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/insurelane/eventkit/kafka"
	"github.com/insurelane/eventkit/logger"
)

// brokerClient is the subset of kafka-go's *kafka.Client the administrator
// uses. Tests substitute a fake broker through it.
type brokerClient interface {
	Metadata(ctx context.Context, req *kafkago.MetadataRequest) (*kafkago.MetadataResponse, error)
	CreateTopics(ctx context.Context, req *kafkago.CreateTopicsRequest) (*kafkago.CreateTopicsResponse, error)
	DeleteTopics(ctx context.Context, req *kafkago.DeleteTopicsRequest) (*kafkago.DeleteTopicsResponse, error)
	DescribeConfigs(ctx context.Context, req *kafkago.DescribeConfigsRequest) (*kafkago.DescribeConfigsResponse, error)
	AlterConfigs(ctx context.Context, req *kafkago.AlterConfigsRequest) (*kafkago.AlterConfigsResponse, error)
	ListGroups(ctx context.Context, req *kafkago.ListGroupsRequest) (*kafkago.ListGroupsResponse, error)
	DescribeGroups(ctx context.Context, req *kafkago.DescribeGroupsRequest) (*kafkago.DescribeGroupsResponse, error)
	DeleteGroups(ctx context.Context, req *kafkago.DeleteGroupsRequest) (*kafkago.DeleteGroupsResponse, error)
	OffsetFetch(ctx context.Context, req *kafkago.OffsetFetchRequest) (*kafkago.OffsetFetchResponse, error)
	ListOffsets(ctx context.Context, req *kafkago.ListOffsetsRequest) (*kafkago.ListOffsetsResponse, error)
	OffsetCommit(ctx context.Context, req *kafkago.OffsetCommitRequest) (*kafkago.OffsetCommitResponse, error)
}

// Admin administers topics and consumer groups on a Kafka cluster.
type Admin struct {
	client brokerClient
	addr   net.Addr
	log    *logger.Logger
}

// New creates an administrator with TLS/SASL from the shared kafka config.
func New(cfg kafka.Config, log *logger.Logger) (*Admin, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka admin config: %w", err)
	}

	if !cfg.Enabled {
		return nil, fmt.Errorf("kafka is disabled")
	}

	transport, err := kafka.CreateTransport(&cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka admin transport: %w", err)
	}

	addr := kafkago.TCP(cfg.Brokers...)
	alog := log.WithComponent("kafka.admin")

	alog.Info("Kafka admin initialized", map[string]interface{}{
		"brokers": cfg.Brokers,
	})

	return &Admin{
		client: &kafkago.Client{
			Addr:      addr,
			Timeout:   kafka.ParseDuration(cfg.DialTimeout),
			Transport: transport,
		},
		addr: addr,
		log:  alog,
	}, nil
}

// isAlreadyExists reports whether a creation error means the topic is
// already there, which the idempotent-create paths treat as success.
func isAlreadyExists(err error) bool {
	return errors.Is(err, kafkago.TopicAlreadyExists)
}
