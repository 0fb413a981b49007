package realtime

import "github.com/cespare/xxhash/v2"

// shardFor maps key onto one of n shards.
func shardFor(key string, n int) int {
	return int(xxhash.Sum64String(key) % uint64(n))
}
