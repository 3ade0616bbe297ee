// Command nextrun is the CLI entrypoint: it only wires internal/cmd's
// cobra command tree to process exit status.
package main

import (
	"fmt"
	"os"

	"github.com/jpequegn/nextrun/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
