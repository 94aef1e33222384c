package main

import (
	"os"
	"path/filepath"

	"github.com/disksyncpro/disksyncpro/internal/buildinfo"
	"github.com/disksyncpro/disksyncpro/internal/config"
	"github.com/disksyncpro/disksyncpro/internal/engine"
	"github.com/disksyncpro/disksyncpro/internal/plog"
)

// runInit writes a default job configuration file in the current
// directory from -source/-dest/-mode, refusing to overwrite an existing
// one unless -force is given. Grounded on cmd/init.go's
// load-existing-or-default-then-generate shape, trimmed to this
// module's single-config-file layout (no lockfile acquisition: Init
// never touches the destination tree itself).
func runInit(flagMap map[string]any) int {
	source, _ := flagMap["source"].(string)
	dest, _ := flagMap["dest"].(string)
	if source == "" || dest == "" {
		plog.Error("init: the -source and -dest flags are required")
		return int(engine.ExitConfigError)
	}

	modeStr, ok := flagMap["mode"].(string)
	if !ok || modeStr == "" {
		modeStr = "sync"
	}
	mode, err := config.ParseMode(modeStr)
	if err != nil {
		plog.Error("init: invalid mode", "error", err)
		return int(engine.ExitConfigError)
	}

	force, _ := flagMap["force"].(bool)
	existingPath := filepath.Join(".", config.FileName)
	if _, statErr := os.Stat(existingPath); statErr == nil && !force {
		plog.Error("init: a job configuration already exists; rerun with -force to overwrite", "path", existingPath)
		return int(engine.ExitConfigError)
	}

	job := config.NewDefaultJob()
	job.SourceRoot = source
	job.DestRoot = dest
	job.Mode = mode
	job.Name = filepath.Base(filepath.Clean(dest))

	if err := job.Validate(); err != nil {
		plog.Error("init: invalid job configuration", "error", err)
		return int(engine.ExitConfigError)
	}

	if err := config.Generate(".", job); err != nil {
		plog.Error("init: writing job configuration failed", "error", err)
		return int(engine.ExitFatal)
	}

	plog.Info(buildinfo.Name+" job configuration initialized", "path", existingPath, "job", job.Name)
	return int(engine.ExitSuccess)
}
