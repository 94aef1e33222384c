// Command disksyncpro is the CLI entrypoint: it parses a subcommand and
// its flags, then dispatches to the matching run* function. Grounded on
// cmd/pgl-backup/main.go's thin-main-plus-context-cancellation shape,
// adapted from that binary's single flat flag.Parse() to this module's
// internal/flagparse subcommand dispatch.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/disksyncpro/disksyncpro/internal/flagparse"
	"github.com/disksyncpro/disksyncpro/internal/plog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command, flagMap, err := flagparse.Parse(os.Args[1:])
	if err != nil {
		plog.Error("argument error", "error", err)
		os.Exit(4)
	}

	if lvl, ok := flagMap["log-level"].(string); ok {
		plog.SetLevel(plog.LevelFromString(lvl))
	}

	switch command {
	case flagparse.None:
		os.Exit(0)
	case flagparse.Backup:
		os.Exit(runBackup(ctx, flagMap))
	case flagparse.Rollback:
		os.Exit(runRollback(flagMap))
	case flagparse.Init:
		os.Exit(runInit(flagMap))
	case flagparse.Version:
		os.Exit(runVersion())
	default:
		plog.Error("internal error: unhandled command", "command", command.String())
		os.Exit(4)
	}
}
