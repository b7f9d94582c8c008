// Package redis stores persistent cache records in Redis, so several
// notebook processes can share one cache.
//
// A record is a single string value under Prefix + record name, written with
// SET. Redis applies each SET atomically: readers see the previous record or
// the new one, never a mix. Concurrent writers of one key resolve
// last-writer-wins.
package redis
