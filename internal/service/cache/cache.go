package cache

import "time"

// BytesCache stores pre-serialized response bodies with a TTL. The query
// handlers cache whole payloads, so bytes in and bytes out is all they need.
type BytesCache interface {
	GetBytes(key string) (b []byte, ok bool, err error)
	SetBytes(key string, value []byte, ttl time.Duration) error
}
