package main

import (
	"fmt"

	"github.com/disksyncpro/disksyncpro/internal/buildinfo"
	"github.com/disksyncpro/disksyncpro/internal/engine"
)

// runVersion prints the application version.
func runVersion() int {
	fmt.Printf("%s version %s\n", buildinfo.Name, buildinfo.Version)
	return int(engine.ExitSuccess)
}
