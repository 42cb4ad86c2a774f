package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status *StatusCommand
	Query  *QueryCommand
	Expire *ExpireCommand
	Purge  *PurgeCommand
	Vacuum *VacuumCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "histdb"
	parser.LongDescription = "Local browsing-history store: schema-versioned SQLite with visit, annotation, and autocomplete tables."

	cmds := &commands{
		Status: &StatusCommand{globals: &globals, version: version},
		Query:  &QueryCommand{globals: &globals, version: version},
		Expire: &ExpireCommand{globals: &globals, version: version},
		Purge:  &PurgeCommand{globals: &globals, version: version},
		Vacuum: &VacuumCommand{globals: &globals, version: version},
	}

	parser.AddCommand("status", "Show database health and statistics", "Show schema version, database statistics, and top hosts.", cmds.Status)
	parser.AddCommand("query", "List visible visits", "List user-visible visits with time range, ordering, and duplicate handling.", cmds.Query)
	parser.AddCommand("expire", "Delete visits past retention", "Delete visits older than the retention window and clean up URL aggregates.", cmds.Expire)
	parser.AddCommand("purge", "Delete ALL history data", "Delete all history data. Destructive operation with safety prompt.", cmds.Purge)
	parser.AddCommand("vacuum", "Rebuild the database file", "Rebuild the database file to reclaim space after large deletions.", cmds.Vacuum)

	return parser, &globals, cmds
}

// Run is the main entry point for the histdb CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("histdb %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
