package raft_state

// StartUpStatus is a joining node's self-reported configuration, used only during the admission
// handshake and never persisted.
type StartUpStatus struct {
	Version                  string
	PartitionIntervalSeconds int64
	HashSalt                 int64
	ReplicationNumber        int
	SeedNodes                []string
}
