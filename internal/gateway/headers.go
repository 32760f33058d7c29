package gateway

import "net/http"

// hopByHopHeaders must not travel past a single hop (RFC 9110 section 7.6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// sanitizedHeaders clones the header set with hop-by-hop headers and the
// caller's Authorization removed. The caller credential authenticates
// against the gateway, not against the target.
func sanitizedHeaders(src http.Header) http.Header {
	dst := src.Clone()
	for _, key := range hopByHopHeaders {
		dst.Del(key)
	}
	dst.Del("Authorization")
	return dst
}

// copyHeaders relays upstream response headers, dropping hop-by-hop ones.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHop(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func isHopByHop(key string) bool {
	for _, hop := range hopByHopHeaders {
		if http.CanonicalHeaderKey(key) == hop {
			return true
		}
	}
	return false
}
