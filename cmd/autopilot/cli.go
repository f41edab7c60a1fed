// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Run     RunCmd     `cmd:"" default:"1" help:"Run the continuous autonomy cycle"`
	Goal    GoalCmd    `cmd:"" help:"Run a single goal and print the session snapshot"`
	Backlog BacklogCmd `cmd:"" help:"Show backlog statistics and pending goals"`
	Ledger  LedgerCmd  `cmd:"" help:"Show capability reliability"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// Globals are flags shared by every command.
type Globals struct {
	Config   string `short:"c" default:"config.json" help:"Config file (.json, .yaml, .yml or .toml)"`
	Provider string `short:"p" help:"Model provider (overrides config)"`
}

// RunCmd runs goals forever: generated ones, chat submissions and recurring ones.
type RunCmd struct {
	Batch      int  `help:"Goals generated per refill (overrides config)"`
	Pause      int  `default:"-1" help:"Seconds between cycles (overrides config)"`
	MaxIter    int  `help:"Step attempts per goal (overrides config)"`
	Dashboard  bool `negatable:"" default:"true" help:"Show the live terminal dashboard"`
	NoGateways bool `help:"Do not connect chat gateways"`
}

// GoalCmd runs one goal to completion.
type GoalCmd struct {
	Text    []string `arg:"" help:"What to achieve"`
	MaxIter int      `help:"Step attempts (overrides config)"`
}

// BacklogCmd prints the goal backlog.
type BacklogCmd struct {
	All bool `help:"Include completed goals"`
}

// LedgerCmd prints the reliability overview.
type LedgerCmd struct{}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
