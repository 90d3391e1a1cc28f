package constants

// Key-value store layout.
const (
	// KeyCacheVersion holds the page cache generation counter.
	KeyCacheVersion = "cache_version"

	// KeyPagePrefix prefixes cached page bodies: page:<path>:v<tag>.
	KeyPagePrefix = "page:"

	// KeyPageHeadersSuffix is appended to a page key for its replay headers.
	KeyPageHeadersSuffix = ":headers"

	// KeyRateLimitPrefix prefixes sliding windows: ratelimit:<path>:<ip>.
	KeyRateLimitPrefix = "ratelimit:"
)
