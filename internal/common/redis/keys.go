package redis

// Key prefixes for the coordination namespace. All keys are derived from
// the 16-hex cache key fingerprint so every tier joins on the same value.
const (
	pageKeyPrefix    = "page:"
	metadataPrefix   = "meta:"
	lockKeyPrefix    = "lock:"
	resultKeyPrefix  = "done:"
	failureKeyPrefix = "fail:"
)

// PageKey returns the Redis key holding the cached page body.
func PageKey(cacheKey string) string {
	return pageKeyPrefix + cacheKey
}

// MetadataKey returns the Redis key holding the page metadata hash.
func MetadataKey(cacheKey string) string {
	return metadataPrefix + cacheKey
}

// LockKey returns the Redis key for the single-flight render lock.
func LockKey(cacheKey string) string {
	return lockKeyPrefix + cacheKey
}

// ResultKey returns the Redis key for the render-done marker observed by
// lock waiters.
func ResultKey(cacheKey string) string {
	return resultKeyPrefix + cacheKey
}

// FailureKey returns the Redis key for the failure suppression record.
func FailureKey(cacheKey string) string {
	return failureKeyPrefix + cacheKey
}
