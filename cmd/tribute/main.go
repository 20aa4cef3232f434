// Command tribute runs the memorial engagement and ledger commit service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/R3E-Network/tribute_layer/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
