// File: cmd/async-nostd/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Program bootstrap. Usage:
//
//	async-nostd [workers [ip [port]]]
//
// Defaults: workers=16, ip=0.0.0.0, port=8000. Malformed arguments fall
// back to those defaults; numerically out-of-range ones fail the process.

package main

import (
	"fmt"
	"os"

	"github.com/gundemirbas/async-nostd/server"
)

func main() {
	cfg, err := server.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "async-nostd:", err)
		os.Exit(2)
	}

	srv, err := server.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "async-nostd:", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "async-nostd: listening on %s, %d workers\n", srv.Addr(), cfg.Workers)
	srv.Run()
}
