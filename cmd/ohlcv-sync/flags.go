package main

import (
	"strconv"
	"strings"
)

// Flag structures for parsing command line arguments

// RunFlags represents flags for the run command
type RunFlags struct {
	Timeframes []string
	Once       bool
}

// ScheduleFlags represents flags for the schedule command
type ScheduleFlags struct {
	Cron       string
	RunOnStart bool
}

// FetchFlags represents flags for the fetch command
type FetchFlags struct {
	Timeframe string
	Start     string
	End       string
	Out       string
}

// MergeFlags represents flags for the merge command
type MergeFlags struct {
	Existing string
	Incoming string
	Out      string
}

// GapsFlags represents flags for the gaps command
type GapsFlags struct {
	File      string
	Timeframe string
}

// QueryFlags represents flags for the query command
type QueryFlags struct {
	Timeframe string
	Limit     int
	Format    string
}

// Flag parsing functions

// extractConfigPath removes --config from args so it can appear anywhere
// after the command name.
func extractConfigPath(args []string) (string, []string, error) {
	var path string
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" || args[i] == "-c":
			if i+1 >= len(args) {
				return "", nil, usagef("%s requires a value", args[i])
			}
			path = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--config="):
			path = strings.TrimPrefix(args[i], "--config=")
		default:
			rest = append(rest, args[i])
		}
	}
	return path, rest, nil
}

// hasHelpFlag reports whether args ask for command help.
func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

// value returns the argument following the flag at args[i].
func value(args []string, i int) (string, error) {
	if i+1 >= len(args) {
		return "", usagef("%s requires a value", args[i])
	}
	return args[i+1], nil
}

// parseRunFlags parses command line arguments for the run command
func parseRunFlags(args []string) (*RunFlags, error) {
	flags := &RunFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--timeframes", "-t":
			v, err := value(args, i)
			if err != nil {
				return nil, err
			}
			for _, tf := range strings.Split(v, ",") {
				if tf = strings.TrimSpace(tf); tf != "" {
					flags.Timeframes = append(flags.Timeframes, tf)
				}
			}
			if len(flags.Timeframes) == 0 {
				return nil, usagef("--timeframes must name at least one timeframe")
			}
			i++
		case "--once":
			flags.Once = true
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// parseScheduleFlags parses command line arguments for the schedule command
func parseScheduleFlags(args []string) (*ScheduleFlags, error) {
	flags := &ScheduleFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--cron":
			v, err := value(args, i)
			if err != nil {
				return nil, err
			}
			flags.Cron = v
			i++
		case "--run-on-start":
			flags.RunOnStart = true
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// parseFetchFlags parses command line arguments for the fetch command
func parseFetchFlags(args []string) (*FetchFlags, error) {
	flags := &FetchFlags{}

	for i := 0; i < len(args); i++ {
		var dst *string
		switch args[i] {
		case "--timeframe", "-t":
			dst = &flags.Timeframe
		case "--start", "-s":
			dst = &flags.Start
		case "--end", "-e":
			dst = &flags.End
		case "--out", "-o":
			dst = &flags.Out
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		v, err := value(args, i)
		if err != nil {
			return nil, err
		}
		*dst = v
		i++
	}

	if flags.Timeframe == "" {
		return nil, usagef("--timeframe is required")
	}
	return flags, nil
}

// parseMergeFlags parses command line arguments for the merge command
func parseMergeFlags(args []string) (*MergeFlags, error) {
	flags := &MergeFlags{}

	for i := 0; i < len(args); i++ {
		var dst *string
		switch args[i] {
		case "--existing":
			dst = &flags.Existing
		case "--incoming":
			dst = &flags.Incoming
		case "--out", "-o":
			dst = &flags.Out
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		v, err := value(args, i)
		if err != nil {
			return nil, err
		}
		*dst = v
		i++
	}

	switch {
	case flags.Existing == "":
		return nil, usagef("--existing is required")
	case flags.Incoming == "":
		return nil, usagef("--incoming is required")
	case flags.Out == "":
		return nil, usagef("--out is required")
	}
	return flags, nil
}

// parseGapsFlags parses command line arguments for the gaps command
func parseGapsFlags(args []string) (*GapsFlags, error) {
	flags := &GapsFlags{}

	for i := 0; i < len(args); i++ {
		var dst *string
		switch args[i] {
		case "--file", "-f":
			dst = &flags.File
		case "--timeframe", "-t":
			dst = &flags.Timeframe
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		v, err := value(args, i)
		if err != nil {
			return nil, err
		}
		*dst = v
		i++
	}

	if flags.File == "" {
		return nil, usagef("--file is required")
	}
	if flags.Timeframe == "" {
		return nil, usagef("--timeframe is required")
	}
	return flags, nil
}

// parseQueryFlags parses command line arguments for the query command
func parseQueryFlags(args []string) (*QueryFlags, error) {
	flags := &QueryFlags{
		Limit:  20,      // Default limit
		Format: "table", // Default format
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--timeframe", "-t":
			v, err := value(args, i)
			if err != nil {
				return nil, err
			}
			flags.Timeframe = v
			i++
		case "--limit", "-l":
			v, err := value(args, i)
			if err != nil {
				return nil, err
			}
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 0 {
				return nil, usagef("invalid limit value: %s", v)
			}
			flags.Limit = limit
			i++
		case "--format", "-f":
			v, err := value(args, i)
			if err != nil {
				return nil, err
			}
			if v != "json" && v != "csv" && v != "table" {
				return nil, usagef("invalid format, must be: json, csv, or table")
			}
			flags.Format = v
			i++
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
	}

	if flags.Timeframe == "" {
		return nil, usagef("--timeframe is required")
	}
	return flags, nil
}
