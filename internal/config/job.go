// Package config defines the Job record — the persisted, per-job
// configuration consumed by the Scanner, Planner, and Executor — and the
// file-backed load/generate lifecycle around it, modeled on the teacher's
// config.Config JSON-tag idiom.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/disksyncpro/disksyncpro/internal/buildinfo"
	"github.com/disksyncpro/disksyncpro/internal/plog"
	"github.com/disksyncpro/disksyncpro/internal/util"
)

// FileName is the name of the per-job configuration file.
const FileName = "disksyncpro.job.json"

// Mode selects the deletion policy the Planner applies to destination-only
// entries: clone mirror-deletes them, sync leaves them alone, safety_net
// quarantine-deletes them into the SafetyNet.
type Mode int

const (
	ModeClone Mode = iota
	ModeSync
	ModeSafetyNet
)

func (m Mode) String() string {
	switch m {
	case ModeClone:
		return "clone"
	case ModeSync:
		return "sync"
	case ModeSafetyNet:
		return "safety_net"
	default:
		return "unknown"
	}
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "clone":
		return ModeClone, nil
	case "sync":
		return ModeSync, nil
	case "safety_net":
		return ModeSafetyNet, nil
	default:
		return 0, fmt.Errorf("config: unknown mode %q", s)
	}
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *Mode) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// systemExcludePatterns are always excluded, regardless of job config, so
// the engine's own on-disk bookkeeping never gets swept into a backup.
var systemExcludePatterns = []string{
	".DiskSyncPro",
	".SafetyNet",
	FileName,
}

// Job is the immutable (per-run) configuration for one backup/sync job.
// Durable fields persist to disk via json tags; runtime-only fields are
// `json:"-"` so a CLI flag can override them for a single invocation
// without touching the saved job file.
type Job struct {
	Version        string   `json:"version"`
	Name           string   `json:"name"`
	SourceRoot     string   `json:"source_root"`
	DestRoot       string   `json:"dest_root"`
	Mode           Mode     `json:"mode"`
	Exclude        []string `json:"exclude"`
	SafetyNetDays  int      `json:"safety_net_days"`
	Verify         bool     `json:"verify"`
	Retries        int      `json:"retries"`
	Threads        int      `json:"threads"`
	MTimeTolerance int64    `json:"mtime_tolerance_seconds"`
	LogLevel       string   `json:"log_level"`

	DryRun bool `json:"-"`
	Resume bool `json:"-"`
}

// NewDefaultJob returns a Job with sensible defaults, mirroring the
// teacher's config.NewDefault.
func NewDefaultJob() Job {
	return Job{
		Version:        buildinfo.Version,
		Name:           "",
		SourceRoot:     "",
		DestRoot:       "",
		Mode:           ModeSync,
		Exclude:        []string{},
		SafetyNetDays:  30,
		Verify:         false,
		Retries:        3,
		Threads:        4,
		MTimeTolerance: 1,
		LogLevel:       "info",
	}
}

// ExcludePatterns returns the job's configured exclusions plus the
// system patterns that must always be excluded, deduplicated.
func (j Job) ExcludePatterns() []string {
	return util.MergeAndDeduplicate(systemExcludePatterns, j.Exclude)
}

// Load reads a Job from <dir>/disksyncpro.job.json. A missing file is not
// an error — the caller gets NewDefaultJob(), mirroring the teacher's
// Load behavior of treating "no config yet" as a normal startup case.
func Load(dir string) (Job, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefaultJob(), nil
		}
		return Job{}, fmt.Errorf("config: opening job file %s: %w", path, err)
	}
	defer f.Close()

	plog.Info("loading job configuration", "path", path)
	job := NewDefaultJob()
	if err := json.NewDecoder(f).Decode(&job); err != nil {
		return Job{}, fmt.Errorf("config: parsing job file %s: %w", path, err)
	}
	if job.Version != buildinfo.Version {
		job.Version = buildinfo.Version
	}
	return job, nil
}

// Generate writes job as a formatted disksyncpro.job.json into dir,
// creating or overwriting the existing file.
func Generate(dir string, job Job) error {
	path := filepath.Join(dir, FileName)
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshaling job: %w", err)
	}
	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("config: writing job file %s: %w", path, err)
	}
	plog.Info("wrote job configuration", "path", path)
	return nil
}

// Validate checks a Job for logical consistency before a run starts.
// Path expansion happens here so the rest of the engine can assume
// SourceRoot/DestRoot are already clean, tilde-expanded paths (a relative
// path is not made absolute).
func (j *Job) Validate() error {
	if j.SourceRoot == "" {
		return fmt.Errorf("config: source_root cannot be empty")
	}
	if j.DestRoot == "" {
		return fmt.Errorf("config: dest_root cannot be empty")
	}

	expanded, err := util.ExpandPath(j.SourceRoot)
	if err != nil {
		return fmt.Errorf("config: expanding source_root: %w", err)
	}
	j.SourceRoot = filepath.Clean(expanded)

	expanded, err = util.ExpandPath(j.DestRoot)
	if err != nil {
		return fmt.Errorf("config: expanding dest_root: %w", err)
	}
	j.DestRoot = filepath.Clean(expanded)

	if _, err := os.Stat(j.SourceRoot); os.IsNotExist(err) {
		return fmt.Errorf("config: source_root %q does not exist", j.SourceRoot)
	}

	if j.Retries < 0 {
		return fmt.Errorf("config: retries cannot be negative")
	}
	if j.Threads < 1 {
		return fmt.Errorf("config: threads must be at least 1")
	}
	if j.MTimeTolerance < 0 {
		return fmt.Errorf("config: mtime_tolerance_seconds cannot be negative")
	}

	for _, p := range j.Exclude {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("config: invalid exclude pattern %q: %w", p, err)
		}
	}
	return nil
}

// LogSummary logs the effective job configuration at Info level, matching
// the teacher's practice of echoing the resolved config back to the user
// before a run starts.
func (j Job) LogSummary() {
	plog.Info("job configuration",
		"name", j.Name,
		"source_root", j.SourceRoot,
		"dest_root", j.DestRoot,
		"mode", j.Mode.String(),
		"verify", j.Verify,
		"retries", j.Retries,
		"threads", j.Threads,
		"dry_run", j.DryRun,
		"resume", j.Resume,
	)
}
