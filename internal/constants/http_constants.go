// Package constants contains shared HTTP header names, content types and
// key-value store key prefixes used across the service.
package constants

// Header names commonly used across the application.
const (
	// HeaderAccept is the HTTP "Accept" header name.
	HeaderAccept = "Accept"

	// HeaderCacheControl is the HTTP "Cache-Control" header name.
	HeaderCacheControl = "Cache-Control"

	// HeaderAcceptEncoding is the HTTP "Accept-Encoding" header name.
	HeaderAcceptEncoding = "Accept-Encoding"

	// HeaderContentType is the HTTP "Content-Type" header name.
	HeaderContentType = "Content-Type"

	// HeaderOrigin is the HTTP "Origin" header name.
	HeaderOrigin = "Origin"

	// HeaderReferer is the HTTP "Referer" header name.
	HeaderReferer = "Referer"

	// HeaderRetryAfter is the HTTP "Retry-After" header name.
	HeaderRetryAfter = "Retry-After"

	// HeaderXRequestID is the custom request ID header name.
	HeaderXRequestID = "X-Request-ID"

	// HeaderXForwardedFor lists the client and proxy chain.
	HeaderXForwardedFor = "X-Forwarded-For"

	// HeaderXRealIP is set by some reverse proxies to the client address.
	HeaderXRealIP = "X-Real-IP"

	// HeaderCFConnectingIP is the platform-provided connecting client address.
	HeaderCFConnectingIP = "CF-Connecting-IP"
)

// Edge observability and identity headers.
const (
	// HeaderXCache reports HIT or MISS for cacheable pages.
	HeaderXCache = "X-Cache"

	// HeaderXCacheVersion reports the version tag a page was served under.
	HeaderXCacheVersion = "X-Cache-Version"

	// HeaderRateLimitLimit is the quota of the matched route.
	HeaderRateLimitLimit = "X-RateLimit-Limit"

	// HeaderRateLimitRemaining is how many requests the window still admits.
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"

	// HeaderRateLimitReset is the unix time at which the window frees a slot.
	HeaderRateLimitReset = "X-RateLimit-Reset"

	// HeaderAuthUserID forwards the authenticated user id to the origin.
	HeaderAuthUserID = "X-Auth-User-Id"

	// HeaderAuthUserEmail forwards the authenticated user email to the origin.
	HeaderAuthUserEmail = "X-Auth-User-Email"

	// HeaderAuthUserRole forwards the authenticated user role to the origin.
	HeaderAuthUserRole = "X-Auth-User-Role"
)

// X-Cache values.
const (
	CacheHit  = "HIT"
	CacheMiss = "MISS"
)

// Common media / content types used in requests and responses.
const (
	// ContentTypeJSON represents "application/json".
	ContentTypeJSON = "application/json"

	// ContentTypeFormURLEncoded represents
	// "application/x-www-form-urlencoded".
	ContentTypeFormURLEncoded = "application/x-www-form-urlencoded"

	// ContentTypeMultipartForm represents "multipart/form-data".
	ContentTypeMultipartForm = "multipart/form-data"

	// ContentTypeHTML represents "text/html".
	ContentTypeHTML = "text/html"

	// ContentTypeHTMLUTF8 represents "text/html; charset=utf-8".
	ContentTypeHTMLUTF8 = "text/html; charset=utf-8"

	// ContentTypePlainUTF8 represents "text/plain; charset=utf-8".
	ContentTypePlainUTF8 = "text/plain; charset=utf-8"
)
