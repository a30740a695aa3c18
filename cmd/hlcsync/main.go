// Command hlcsync runs an offline-first replica or a sync server.
package main

import (
	"os"

	"github.com/roach88/hlcsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
