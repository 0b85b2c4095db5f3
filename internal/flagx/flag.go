// Package flagx lets several components read their own flags out of the
// same os.Args without tripping over each other's definitions.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// FilterArgs returns the subset of args made of allowed flags and their values.
//
// Supported formats:
//  1. Flag and value as separate arguments:  -c conf.json
//  2. Flag and value combined with '=':      -config=conf.json
//
// A token following an allowed flag is taken as its value unless it starts
// with '-'.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// FilterBoolArgs returns the occurrences of boolean flags in args, either
// bare (-migrate) or with an explicit value (-migrate=false). Unlike
// FilterArgs it never takes the following token as a value.
func FilterBoolArgs(args []string, boolFlags []string) []string {
	allowed := make(map[string]struct{}, len(boolFlags))
	for _, f := range boolFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0)
	for _, arg := range args {
		name := strings.SplitN(arg, "=", 2)[0]
		if _, ok := allowed[name]; ok {
			filtered = append(filtered, arg)
		}
	}
	return filtered
}

// Positional returns the arguments that are neither flags nor values of the
// given value-taking flags, in their original order. It is how the command
// finds its subcommand ("list post 7") among config flags.
func Positional(args []string, valueFlags []string) []string {
	takesValue := make(map[string]struct{}, len(valueFlags))
	for _, f := range valueFlags {
		takesValue[f] = struct{}{}
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i+1:]...)
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			out = append(out, arg)
			continue
		}
		if strings.Contains(arg, "=") {
			continue
		}
		if _, ok := takesValue[arg]; ok && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
		}
	}
	return out
}

// ConfigFileFlag extracts the JSON config path given with -c or -config.
// It returns an empty string when neither flag is present.
func ConfigFileFlag() string {
	var config string

	args := FilterArgs(os.Args[1:], []string{"-c", "-config"})

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(args)

	return config
}
