// Command configsync runs a configsync process or administers its shared store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/getpup/configsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
