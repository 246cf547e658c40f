package fingerprint

import "strings"

var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("HEAD"),
	[]byte("DELE"),
	[]byte("PATC"),
	[]byte("OPTI"),
}

// IsHTTPRequest matches the first four payload bytes against the
// common request methods.
func IsHTTPRequest(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}
	for _, m := range httpMethods {
		if payload[0] == m[0] && payload[1] == m[1] && payload[2] == m[2] && payload[3] == m[3] {
			return true
		}
	}
	return false
}

// ExtractHTTPHost scans a request for the Host header and returns its
// value with any :port suffix removed.
func ExtractHTTPHost(payload []byte) (string, bool) {
	if !IsHTTPRequest(payload) {
		return "", false
	}

	length := len(payload)
	for i := 0; i+6 < length; i++ {
		if (payload[i] == 'H' || payload[i] == 'h') &&
			(payload[i+1] == 'o' || payload[i+1] == 'O') &&
			(payload[i+2] == 's' || payload[i+2] == 'S') &&
			(payload[i+3] == 't' || payload[i+3] == 'T') &&
			payload[i+4] == ':' {

			start := i + 5
			for start < length && (payload[start] == ' ' || payload[start] == '\t') {
				start++
			}

			end := start
			for end < length && payload[end] != '\r' && payload[end] != '\n' {
				end++
			}

			if end <= start {
				continue
			}

			host := string(payload[start:end])
			if colon := strings.IndexByte(host, ':'); colon >= 0 {
				host = host[:colon]
			}
			return host, true
		}
	}

	return "", false
}
