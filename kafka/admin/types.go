package admin

// TopicSpec describes a topic to create.
type TopicSpec struct {
	Topic             string            `json:"topic" validate:"required"`
	NumPartitions     int               `json:"num_partitions" validate:"min=1"`
	ReplicationFactor int               `json:"replication_factor" validate:"min=1"`
	ConfigEntries     map[string]string `json:"config_entries,omitempty"`
}

// ApplyDefaults sets single-partition, single-replica defaults.
func (s *TopicSpec) ApplyDefaults() {
	if s.NumPartitions <= 0 {
		s.NumPartitions = 1
	}
	if s.ReplicationFactor <= 0 {
		s.ReplicationFactor = 1
	}
}

// TopicDetail describes an existing topic and its partition layout.
type TopicDetail struct {
	Name       string          `json:"name"`
	Internal   bool            `json:"internal"`
	Partitions []PartitionInfo `json:"partitions"`
}

// PartitionInfo describes one partition's replica placement.
type PartitionInfo struct {
	ID       int   `json:"id"`
	Leader   int   `json:"leader"`
	Replicas []int `json:"replicas"`
	ISR      []int `json:"isr"`
}

// ConfigEntry is one topic configuration value.
type ConfigEntry struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	ReadOnly  bool   `json:"read_only"`
	IsDefault bool   `json:"is_default"`
}

// GroupInfo is a consumer-group listing entry.
type GroupInfo struct {
	GroupID     string `json:"group_id"`
	Coordinator int    `json:"coordinator"`
}

// GroupDescription describes a consumer group and its members.
type GroupDescription struct {
	GroupID string        `json:"group_id"`
	State   string        `json:"state"`
	Members []GroupMember `json:"members"`
}

// GroupMember is one consumer instance within a group.
type GroupMember struct {
	MemberID   string           `json:"member_id"`
	ClientID   string           `json:"client_id"`
	ClientHost string           `json:"client_host"`
	Topics     map[string][]int `json:"topics,omitempty"`
}

// PartitionOffset is a group's committed position on one partition.
type PartitionOffset struct {
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	Metadata  string `json:"metadata,omitempty"`
}

// BrokerInfo describes one broker in the cluster.
type BrokerInfo struct {
	ID   int    `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
	Rack string `json:"rack,omitempty"`
}

// ClusterInfo is the cluster metadata snapshot.
type ClusterInfo struct {
	ClusterID  string       `json:"cluster_id"`
	Controller BrokerInfo   `json:"controller"`
	Brokers    []BrokerInfo `json:"brokers"`
}
