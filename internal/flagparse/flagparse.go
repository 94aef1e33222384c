package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disksyncpro/disksyncpro/internal/buildinfo"
)

// cliFlags holds pointers to every flag this module's CLI can register.
// Fields are pointers so "not registered for this command" (nil) can be
// distinguished from "registered but left at its default" (non-nil).
type cliFlags struct {
	LogLevel *string

	ConfigPath *string
	JobName    *string
	DryRun     *bool
	Resume     *bool
	Verify     *bool

	JournalPath *string

	Source *string
	Dest   *string
	Mode   *string
	Force  *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
}

func registerBackupFlags(fs *flag.FlagSet, f *cliFlags) {
	f.ConfigPath = fs.String("c", "", "Path to the job configuration file.")
	f.JobName = fs.String("j", "", "Name of the job to run.")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
	f.Resume = fs.Bool("resume", false, "Resume a previously interrupted run using its checkpoint.")
	f.Verify = fs.Bool("verify", false, "Verify copied file contents by hash after writing.")
}

func registerRollbackFlags(fs *flag.FlagSet, f *cliFlags) {
	f.JournalPath = fs.String("f", "", "Path to the journal file to roll back. (Required)")
	f.DryRun = fs.Bool("dry-run", false, "Show what rollback would do without making any changes.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Source = fs.String("source", "", "Source directory for the new job. (Required)")
	f.Dest = fs.String("dest", "", "Destination directory for the new job. (Required)")
	f.Mode = fs.String("mode", "sync", "Deletion policy: 'clone', 'sync', or 'safety_net'.")
	f.Force = fs.Bool("force", false, "Overwrite an existing job configuration file.")
}

// Parse parses args (usually os.Args[1:]) and returns the selected command
// plus a map of only the flags the user explicitly set, keyed by flag name.
func Parse(args []string) (Command, map[string]any, error) {
	if len(args) == 0 {
		printTopLevelUsage()
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])
	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		printTopLevelUsage()
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
	registerGlobalFlags(fs, f)

	switch command {
	case Backup:
		registerBackupFlags(fs, f)
		fs.Usage = func() { printSubcommandUsage(command, "Run a backup/sync job.", fs) }
	case Rollback:
		registerRollbackFlags(fs, f)
		fs.Usage = func() { printSubcommandUsage(command, "Roll back a run using its journal.", fs) }
	case Init:
		registerInitFlags(fs, f)
		fs.Usage = func() { printSubcommandUsage(command, "Write a default job configuration file.", fs) }
	case Version:
		return command, nil, nil
	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}

	return command, flagsToMap(fs, f), nil
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) map[string]any {
	used := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { used[fl.Name] = true })

	flagMap := make(map[string]any)
	addIfUsed(flagMap, used, "log-level", f.LogLevel)
	addIfUsed(flagMap, used, "c", f.ConfigPath)
	addIfUsed(flagMap, used, "j", f.JobName)
	addIfUsed(flagMap, used, "dry-run", f.DryRun)
	addIfUsed(flagMap, used, "resume", f.Resume)
	addIfUsed(flagMap, used, "verify", f.Verify)
	addIfUsed(flagMap, used, "f", f.JournalPath)
	addIfUsed(flagMap, used, "source", f.Source)
	addIfUsed(flagMap, used, "dest", f.Dest)
	addIfUsed(flagMap, used, "mode", f.Mode)
	addIfUsed(flagMap, used, "force", f.Force)
	return flagMap
}

func addIfUsed[T any](flagMap map[string]any, used map[string]bool, name string, ptr *T) {
	if ptr != nil && used[name] {
		flagMap[name] = *ptr
	}
}

func printTopLevelUsage() {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(os.Stderr, "A file-tree backup and sync engine.\n\n")
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  backup      Run a backup/sync job\n")
	fmt.Fprintf(os.Stderr, "  rollback    Roll back a run using its journal\n")
	fmt.Fprintf(os.Stderr, "  init        Write a default job configuration file\n")
	fmt.Fprintf(os.Stderr, "  version     Print the application version\n")
	fmt.Fprintf(os.Stderr, "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Usage: %s %s [flags]\n\n", execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}
