package main

import (
	"context"
	"fmt"
	"os"

	"github.com/BradenHooton/sentinel/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "sentinel:", err)
		os.Exit(1)
	}
}
