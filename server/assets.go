// File: server/assets.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import _ "embed"

// indexHTML is the page served on "/": a minimal WebSocket echo console
// talking to the /ws endpoint.
//
//go:embed index.html
var indexHTML []byte
