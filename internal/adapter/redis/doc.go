// Package redis implements the Redis-backed coordination layer: the destination
// lock, the event bus on Redis Streams, the queued-event debouncer and leader
// election, plus the metrics and circuit breaker hooks installed on the client.
package redis
