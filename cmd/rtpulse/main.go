package main

import (
	"context"
	"fmt"
	"os"

	"rtpulse/internal/cli"
	"rtpulse/internal/rt/rterr"
)

func main() {
	err := cli.Execute(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "rtpulse:", err)
	}
	os.Exit(rterr.ExitCode(err))
}
