package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// Output formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatXLSX  = "xlsx"
)

// Flags holds all command-line flags
type Flags struct {
	Config    *string
	DSN       *string
	Dedicated *bool
	ReadOnly  *bool
	Preset    *string
	Format    *string
	Output    *string
	Serve     *string
	Dev       *bool
	Version   *bool

	// Statements are run in command-line order
	Statements statementList

	// Mask maps column -> mask pattern
	Mask maskList
}

// statementList collects repeated -e flags
type statementList []string

func (s *statementList) String() string { return strings.Join(*s, "; ") }

func (s *statementList) Set(v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("empty statement")
	}
	*s = append(*s, v)
	return nil
}

// maskList collects repeated --mask column=pattern flags
type maskList map[string]string

func (m *maskList) String() string {
	pairs := make([]string, 0, len(*m))
	for col, p := range *m {
		pairs = append(pairs, col+"="+p)
	}
	return strings.Join(pairs, ",")
}

func (m *maskList) Set(v string) error {
	col, pattern, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(col) == "" {
		return fmt.Errorf("mask must be column=pattern, got %q", v)
	}
	if *m == nil {
		*m = make(maskList)
	}
	(*m)[strings.TrimSpace(col)] = strings.TrimSpace(pattern)
	return nil
}

// ParseFlags parses args (without the program name)
func ParseFlags(args []string, stderr io.Writer) (*Flags, error) {
	fs := flag.NewFlagSet("mssqlpool", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { PrintHelp(stderr) }

	f := &Flags{
		Config:    fs.String("config", "", "path to YAML config"),
		DSN:       fs.String("dsn", "", "sqlserver:// URL (overrides database section)"),
		Dedicated: fs.Bool("dedicated", false, "run every statement on one pinned connection"),
		ReadOnly:  fs.Bool("read-only", false, "reject anything but a single SELECT or WITH query"),
		Preset:    fs.String("preset", "", "pool preset (overrides pool.preset)"),
		Format:    fs.String("format", FormatTable, "output format: table, json or xlsx"),
		Output:    fs.String("output", "", "output file (default stdout; required for xlsx)"),
		Serve:     fs.String("serve", "", "serve /metrics, /stats and /healthz on this address until interrupted"),
		Dev:       fs.Bool("dev", false, "publish to an in-process miniredis"),
		Version:   fs.Bool("version", false, "print version"),
	}
	fs.Var(&f.Statements, "e", "SQL batch to execute (repeatable)")
	fs.Var(&f.Mask, "mask", "mask a column in the output: column=partial|middle|stars|first2_last2 (repeatable)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	switch *f.Format {
	case FormatTable, FormatJSON:
	case FormatXLSX:
		if *f.Output == "" && len(f.Statements) > 0 {
			return nil, fmt.Errorf("--output is required for xlsx")
		}
	default:
		return nil, fmt.Errorf("unknown format %q", *f.Format)
	}
	return f, nil
}

// HasWork reports whether there is anything to run
func (f *Flags) HasWork() bool {
	return len(f.Statements) > 0 || *f.Serve != ""
}
