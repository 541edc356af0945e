package admin

import (
	"context"
	"fmt"
	"sort"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/insurelane/eventkit/validation"
)

// CreateTopic creates a single topic. Creating a topic that already exists
// is a no-op.
func (a *Admin) CreateTopic(ctx context.Context, spec TopicSpec) error {
	return a.CreateTopics(ctx, spec)
}

// CreateTopics creates several topics in one request. Per-topic
// "already exists" replies are swallowed; any other per-topic error is
// returned unmodified.
func (a *Admin) CreateTopics(ctx context.Context, specs ...TopicSpec) error {
	if len(specs) == 0 {
		return nil
	}

	configs := make([]kafkago.TopicConfig, 0, len(specs))
	for i := range specs {
		specs[i].ApplyDefaults()
		if err := validation.Validate(&specs[i]); err != nil {
			return fmt.Errorf("topic spec %q: %w", specs[i].Topic, err)
		}

		entries := make([]kafkago.ConfigEntry, 0, len(specs[i].ConfigEntries))
		for name, value := range specs[i].ConfigEntries {
			entries = append(entries, kafkago.ConfigEntry{ConfigName: name, ConfigValue: value})
		}

		configs = append(configs, kafkago.TopicConfig{
			Topic:             specs[i].Topic,
			NumPartitions:     specs[i].NumPartitions,
			ReplicationFactor: specs[i].ReplicationFactor,
			ConfigEntries:     entries,
		})
	}

	resp, err := a.client.CreateTopics(ctx, &kafkago.CreateTopicsRequest{
		Addr:   a.addr,
		Topics: configs,
	})
	if err != nil {
		return err
	}

	for _, topicErr := range resp.Errors {
		if topicErr == nil || isAlreadyExists(topicErr) {
			continue
		}
		return topicErr
	}

	a.log.Info("Topics created", map[string]interface{}{
		"count": len(configs),
	})
	return nil
}

// EnsureTopicExists checks for the topic before creating it, and treats
// losing a creation race as success: concurrent callers converge on one
// topic with neither seeing an error.
func (a *Admin) EnsureTopicExists(ctx context.Context, spec TopicSpec) error {
	exists, err := a.TopicExists(ctx, spec.Topic)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.CreateTopic(ctx, spec)
}

// DeleteTopic deletes a single topic.
func (a *Admin) DeleteTopic(ctx context.Context, topic string) error {
	return a.DeleteTopics(ctx, topic)
}

// DeleteTopics deletes several topics in one request. Per-topic broker
// errors are returned unmodified.
func (a *Admin) DeleteTopics(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}

	resp, err := a.client.DeleteTopics(ctx, &kafkago.DeleteTopicsRequest{
		Addr:   a.addr,
		Topics: topics,
	})
	if err != nil {
		return err
	}

	for _, topicErr := range resp.Errors {
		if topicErr != nil {
			return topicErr
		}
	}

	a.log.Info("Topics deleted", map[string]interface{}{
		"topics": topics,
	})
	return nil
}

// ListTopics returns the names of all non-internal topics, sorted.
func (a *Admin) ListTopics(ctx context.Context) ([]string, error) {
	meta, err := a.client.Metadata(ctx, &kafkago.MetadataRequest{Addr: a.addr})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(meta.Topics))
	for _, topic := range meta.Topics {
		if topic.Internal {
			continue
		}
		names = append(names, topic.Name)
	}
	sort.Strings(names)
	return names, nil
}

// DescribeTopics returns partition layout for the named topics (or all
// topics when none are named). A broker error on any requested topic is
// returned unmodified.
func (a *Admin) DescribeTopics(ctx context.Context, topics ...string) ([]TopicDetail, error) {
	meta, err := a.client.Metadata(ctx, &kafkago.MetadataRequest{
		Addr:   a.addr,
		Topics: topics,
	})
	if err != nil {
		return nil, err
	}

	details := make([]TopicDetail, 0, len(meta.Topics))
	for _, topic := range meta.Topics {
		if topic.Error != nil {
			return nil, topic.Error
		}

		partitions := make([]PartitionInfo, 0, len(topic.Partitions))
		for _, p := range topic.Partitions {
			info := PartitionInfo{
				ID:       p.ID,
				Leader:   p.Leader.ID,
				Replicas: brokerIDs(p.Replicas),
				ISR:      brokerIDs(p.Isr),
			}
			partitions = append(partitions, info)
		}
		sort.Slice(partitions, func(i, j int) bool { return partitions[i].ID < partitions[j].ID })

		details = append(details, TopicDetail{
			Name:       topic.Name,
			Internal:   topic.Internal,
			Partitions: partitions,
		})
	}
	return details, nil
}

// TopicExists reports whether the named topic exists in cluster metadata.
func (a *Admin) TopicExists(ctx context.Context, topic string) (bool, error) {
	meta, err := a.client.Metadata(ctx, &kafkago.MetadataRequest{Addr: a.addr})
	if err != nil {
		return false, err
	}
	for _, t := range meta.Topics {
		if t.Name == topic {
			return true, nil
		}
	}
	return false, nil
}

// GetTopicConfig fetches topic configuration. With no names, all entries
// are returned.
func (a *Admin) GetTopicConfig(ctx context.Context, topic string, names ...string) ([]ConfigEntry, error) {
	resp, err := a.client.DescribeConfigs(ctx, &kafkago.DescribeConfigsRequest{
		Addr: a.addr,
		Resources: []kafkago.DescribeConfigRequestResource{{
			ResourceType: kafkago.ResourceTypeTopic,
			ResourceName: topic,
			ConfigNames:  names,
		}},
	})
	if err != nil {
		return nil, err
	}

	for _, resource := range resp.Resources {
		if resource.Error != nil {
			return nil, resource.Error
		}
		entries := make([]ConfigEntry, 0, len(resource.ConfigEntries))
		for _, e := range resource.ConfigEntries {
			entries = append(entries, ConfigEntry{
				Name:      e.ConfigName,
				Value:     e.ConfigValue,
				ReadOnly:  e.ReadOnly,
				IsDefault: e.IsDefault,
			})
		}
		return entries, nil
	}
	return nil, fmt.Errorf("no config returned for topic %q", topic)
}

// UpdateTopicConfig alters topic configuration entries. Broker errors are
// returned unmodified.
func (a *Admin) UpdateTopicConfig(ctx context.Context, topic string, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}

	configs := make([]kafkago.AlterConfigRequestConfig, 0, len(entries))
	for name, value := range entries {
		configs = append(configs, kafkago.AlterConfigRequestConfig{Name: name, Value: value})
	}

	resp, err := a.client.AlterConfigs(ctx, &kafkago.AlterConfigsRequest{
		Addr: a.addr,
		Resources: []kafkago.AlterConfigRequestResource{{
			ResourceType: kafkago.ResourceTypeTopic,
			ResourceName: topic,
			Configs:      configs,
		}},
	})
	if err != nil {
		return err
	}

	for _, resourceErr := range resp.Errors {
		if resourceErr != nil {
			return resourceErr
		}
	}

	a.log.Info("Topic config updated", map[string]interface{}{
		"topic": topic,
		"keys":  len(entries),
	})
	return nil
}

func brokerIDs(brokers []kafkago.Broker) []int {
	ids := make([]int, 0, len(brokers))
	for _, b := range brokers {
		ids = append(ids, b.ID)
	}
	return ids
}
