package config

type config struct {
	// Lower bound of the randomized election timeout in milliseconds
	ElectionTimeoutMin int
	// Upper bound of the randomized election timeout in milliseconds
	ElectionTimeoutMax int
	// Leader heartbeat period in milliseconds
	HeartbeatTimeout int
	// Network call retry timeout in milliseconds
	RetryTimeout int
	// Network latency in milliseconds (simulator only)
	NetworkLatency int
	// Maximum number of entries sent in one append batch
	MaxBatchSize int
	// Maximum snapshot chunk size in bytes
	SnapshotChunkSize int
	// Attempts a single snapshot chunk read gets before the whole transfer fails
	SnapshotChunkRetries int
	// Committed entries kept in the log before compaction kicks in
	CompactionThreshold int

	// Partition parameters every member must agree on before joining
	PartitionIntervalSeconds int64
	HashSalt                 int64
	ReplicationNumber        int
	SlotCount                int

	// Protocol version checked during the admission handshake
	ClusterVersion string

	// Addresses of the seed members used to bootstrap a cluster
	SeedNodes []string
}

var Config = config{
	ElectionTimeoutMin:       5000,
	ElectionTimeoutMax:       10000,
	HeartbeatTimeout:         2500,
	RetryTimeout:             3000,
	MaxBatchSize:             64,
	SnapshotChunkSize:        64 * 1024,
	SnapshotChunkRetries:     5,
	CompactionThreshold:      1000,
	PartitionIntervalSeconds: 604800,
	HashSalt:                 2333,
	ReplicationNumber:        3,
	SlotCount:                10000,
	ClusterVersion:           "0.1.0",
}
