// Package redis wraps go-redis connection setup shared by the Redis backed
// job queue and the settlement idempotency cache.
package redis
