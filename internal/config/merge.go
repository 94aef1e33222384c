package config

import "github.com/disksyncpro/disksyncpro/internal/plog"

// MergeWithFlags overlays CLI-flag values onto a base Job. setFlags holds
// only the flags the user explicitly set (flagparse.Parse's flag.Visit
// result), so flags the user didn't pass never clobber a loaded job file's
// durable settings (exclude, safety_net_days, ...).
func MergeWithFlags(base Job, setFlags map[string]any) Job {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "log-level":
			merged.LogLevel = value.(string)
		case "dry-run":
			merged.DryRun = value.(bool)
		case "resume":
			merged.Resume = value.(bool)
		case "verify":
			merged.Verify = value.(bool)
		case "source":
			merged.SourceRoot = value.(string)
		case "dest":
			merged.DestRoot = value.(string)
		case "mode":
			mode, err := ParseMode(value.(string))
			if err != nil {
				plog.Warn("ignoring invalid mode flag", "value", value, "error", err)
				continue
			}
			merged.Mode = mode
		default:
			plog.Debug("unhandled flag in MergeWithFlags", "flag", name)
		}
	}
	return merged
}
