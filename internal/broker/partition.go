package broker

import "hash/fnv"

// DefaultPartitions is the partition count used by Memory when none is configured.
const DefaultPartitions = 16

// PartitionFor maps a key onto one of n partitions using FNV-1a.
// The mapping is stable for the life of the process and across nodes.
func PartitionFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(n))
}
