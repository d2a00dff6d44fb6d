package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"image-sage-server-go/internal/cli"
)

var (
	version = "1.0.0"
	commit  = ""
)

func main() {
	cli.SetVersion(version, commit)
	if err := cli.New().Execute(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		_, _ = fmt.Fprintf(os.Stderr, "image-sage failed: %v\n", err)
		os.Exit(1)
	}
}
