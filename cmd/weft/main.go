package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"
	"weft.sh/weft/core/log"
	"weft.sh/weft/core/weft"
)

func main() {
	cmd := &cli.Command{
		Name:  "weft",
		Usage: "weft workflow runner",
		Commands: []*cli.Command{
			weft.Command(),
		},
	}

	ctx := context.Background()
	logger := log.New("weft")
	ctx = log.IntoContext(ctx, logger.With("command", cmd.Name))

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}
