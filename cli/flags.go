package cli

import (
	"flag"
	"time"
)

type Flags interface {
	StringVar(*string, string, string, string)
	IntVar(*int, string, int, string)
	BoolVar(*bool, string, bool, string)
	DurationVar(*time.Duration, string, time.Duration, string)
}

// StdFlags defines flags on flag.CommandLine.
type StdFlags struct{}

func (f *StdFlags) StringVar(p *string, name string, defaultValue string, help string) {
	flag.StringVar(p, name, defaultValue, help)
}

func (f *StdFlags) IntVar(p *int, name string, defaultValue int, help string) {
	flag.IntVar(p, name, defaultValue, help)
}

func (f *StdFlags) BoolVar(p *bool, name string, defaultValue bool, help string) {
	flag.BoolVar(p, name, defaultValue, help)
}

func (f *StdFlags) DurationVar(p *time.Duration, name string, defaultValue time.Duration, help string) {
	flag.DurationVar(p, name, defaultValue, help)
}
