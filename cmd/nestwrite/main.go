// Command nestwrite syncs nested payload files into a database.
package main

import (
	"fmt"
	"os"

	"github.com/syssam/nestwrite/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
