// File: protocol/http.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"fmt"
	"strings"
)

// ResponseHeaders serializes an HTTP/1.1 status line plus the content
// headers the echo service needs.
func ResponseHeaders(status, contentType string, contentLen int) []byte {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 ")
	sb.WriteString(status)
	sb.WriteString("\r\nContent-Type: ")
	sb.WriteString(contentType)
	sb.WriteString("\r\nContent-Length: ")
	sb.WriteString(fmt.Sprintf("%d", contentLen))
	sb.WriteString("\r\nConnection: close\r\n\r\n")
	return []byte(sb.String())
}

// Response serializes a complete HTTP/1.1 response.
func Response(status, contentType string, body []byte) []byte {
	hdr := ResponseHeaders(status, contentType, len(body))
	out := make([]byte, 0, len(hdr)+len(body))
	out = append(out, hdr...)
	out = append(out, body...)
	return out
}
