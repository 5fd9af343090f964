// Command vmsync coerces, protects and reconciles typed view-model state.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/vmsync/internal/cli"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err == nil {
		return
	}
	// Commands report ExitErrors themselves; anything else is a cobra
	// usage error that was silenced.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(exitErr.Code)
}
