package admin

import (
	"context"
	"fmt"
	"sort"

	kafkago "github.com/segmentio/kafka-go"
)

// ListConsumerGroups returns all consumer groups known to the cluster.
func (a *Admin) ListConsumerGroups(ctx context.Context) ([]GroupInfo, error) {
	resp, err := a.client.ListGroups(ctx, &kafkago.ListGroupsRequest{Addr: a.addr})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	groups := make([]GroupInfo, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		groups = append(groups, GroupInfo{GroupID: g.GroupID, Coordinator: g.Coordinator})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].GroupID < groups[j].GroupID })
	return groups, nil
}

// DescribeConsumerGroup returns state and membership for one group.
func (a *Admin) DescribeConsumerGroup(ctx context.Context, groupID string) (GroupDescription, error) {
	resp, err := a.client.DescribeGroups(ctx, &kafkago.DescribeGroupsRequest{
		Addr:     a.addr,
		GroupIDs: []string{groupID},
	})
	if err != nil {
		return GroupDescription{}, err
	}

	for _, group := range resp.Groups {
		if group.GroupID != groupID {
			continue
		}
		if group.Error != nil {
			return GroupDescription{}, group.Error
		}

		members := make([]GroupMember, 0, len(group.Members))
		for _, m := range group.Members {
			topics := make(map[string][]int, len(m.MemberAssignments.Topics))
			for _, t := range m.MemberAssignments.Topics {
				topics[t.Topic] = t.Partitions
			}
			members = append(members, GroupMember{
				MemberID:   m.MemberID,
				ClientID:   m.ClientID,
				ClientHost: m.ClientHost,
				Topics:     topics,
			})
		}

		return GroupDescription{
			GroupID: group.GroupID,
			State:   group.GroupState,
			Members: members,
		}, nil
	}

	return GroupDescription{}, fmt.Errorf("consumer group %q not found", groupID)
}

// DeleteConsumerGroup deletes a consumer group and its committed offsets.
func (a *Admin) DeleteConsumerGroup(ctx context.Context, groupID string) error {
	resp, err := a.client.DeleteGroups(ctx, &kafkago.DeleteGroupsRequest{
		Addr:     a.addr,
		GroupIDs: []string{groupID},
	})
	if err != nil {
		return err
	}

	for _, groupErr := range resp.Errors {
		if groupErr != nil {
			return groupErr
		}
	}

	a.log.Info("Consumer group deleted", map[string]interface{}{
		"group_id": groupID,
	})
	return nil
}

// GetConsumerGroupOffsets returns the group's committed offset per partition
// for the given topics. Partitions are resolved from topic metadata.
func (a *Admin) GetConsumerGroupOffsets(ctx context.Context, groupID string, topics ...string) (map[string][]PartitionOffset, error) {
	requested := make(map[string][]int, len(topics))
	for _, topic := range topics {
		partitions, err := a.topicPartitions(ctx, topic)
		if err != nil {
			return nil, err
		}
		requested[topic] = partitions
	}

	resp, err := a.client.OffsetFetch(ctx, &kafkago.OffsetFetchRequest{
		Addr:    a.addr,
		GroupID: groupID,
		Topics:  requested,
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	offsets := make(map[string][]PartitionOffset, len(resp.Topics))
	for topic, partitions := range resp.Topics {
		list := make([]PartitionOffset, 0, len(partitions))
		for _, p := range partitions {
			if p.Error != nil {
				return nil, p.Error
			}
			list = append(list, PartitionOffset{
				Partition: p.Partition,
				Offset:    p.CommittedOffset,
				Metadata:  p.Metadata,
			})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Partition < list[j].Partition })
		offsets[topic] = list
	}
	return offsets, nil
}

// ResetConsumerGroupOffsets resets the group's committed offsets on topic to
// the earliest available offset. When no partitions are supplied, they are
// resolved from topic metadata. The group must have no active members.
func (a *Admin) ResetConsumerGroupOffsets(ctx context.Context, groupID, topic string, partitions ...int) error {
	if len(partitions) == 0 {
		resolved, err := a.topicPartitions(ctx, topic)
		if err != nil {
			return err
		}
		partitions = resolved
	}
	if len(partitions) == 0 {
		return fmt.Errorf("topic %q has no partitions to reset", topic)
	}

	requests := make([]kafkago.OffsetRequest, 0, len(partitions))
	for _, p := range partitions {
		requests = append(requests, kafkago.FirstOffsetOf(p))
	}

	listed, err := a.client.ListOffsets(ctx, &kafkago.ListOffsetsRequest{
		Addr:   a.addr,
		Topics: map[string][]kafkago.OffsetRequest{topic: requests},
	})
	if err != nil {
		return err
	}

	commits := make([]kafkago.OffsetCommit, 0, len(partitions))
	for _, p := range listed.Topics[topic] {
		if p.Error != nil {
			return p.Error
		}
		commits = append(commits, kafkago.OffsetCommit{
			Partition: p.Partition,
			Offset:    p.FirstOffset,
		})
	}

	resp, err := a.client.OffsetCommit(ctx, &kafkago.OffsetCommitRequest{
		Addr:         a.addr,
		GroupID:      groupID,
		GenerationID: -1,
		Topics:       map[string][]kafkago.OffsetCommit{topic: commits},
	})
	if err != nil {
		return err
	}

	for _, results := range resp.Topics {
		for _, r := range results {
			if r.Error != nil {
				return r.Error
			}
		}
	}

	a.log.Info("Consumer group offsets reset to earliest", map[string]interface{}{
		"group_id":   groupID,
		"topic":      topic,
		"partitions": partitions,
	})
	return nil
}

// GetClusterInfo returns broker membership and the current controller.
func (a *Admin) GetClusterInfo(ctx context.Context) (ClusterInfo, error) {
	meta, err := a.client.Metadata(ctx, &kafkago.MetadataRequest{Addr: a.addr})
	if err != nil {
		return ClusterInfo{}, err
	}

	brokers := make([]BrokerInfo, 0, len(meta.Brokers))
	for _, b := range meta.Brokers {
		brokers = append(brokers, BrokerInfo{ID: b.ID, Host: b.Host, Port: b.Port, Rack: b.Rack})
	}
	sort.Slice(brokers, func(i, j int) bool { return brokers[i].ID < brokers[j].ID })

	return ClusterInfo{
		ClusterID: meta.ClusterID,
		Controller: BrokerInfo{
			ID:   meta.Controller.ID,
			Host: meta.Controller.Host,
			Port: meta.Controller.Port,
			Rack: meta.Controller.Rack,
		},
		Brokers: brokers,
	}, nil
}

// topicPartitions resolves a topic's partition IDs from cluster metadata.
func (a *Admin) topicPartitions(ctx context.Context, topic string) ([]int, error) {
	meta, err := a.client.Metadata(ctx, &kafkago.MetadataRequest{
		Addr:   a.addr,
		Topics: []string{topic},
	})
	if err != nil {
		return nil, err
	}

	for _, t := range meta.Topics {
		if t.Name != topic {
			continue
		}
		if t.Error != nil {
			return nil, t.Error
		}
		ids := make([]int, 0, len(t.Partitions))
		for _, p := range t.Partitions {
			ids = append(ids, p.ID)
		}
		sort.Ints(ids)
		return ids, nil
	}
	return nil, fmt.Errorf("topic %q not found", topic)
}
