// Command raafstore keeps the recruiting file tree and its SQLite store in agreement.
package main

import (
	"os"
	"raafstore/internal/ui/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
