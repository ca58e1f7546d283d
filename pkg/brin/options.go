package brin

import (
	"fmt"
	"strconv"
)

const DefaultPagesPerRange = 128

// Options are the per-index storage parameters.
type Options struct {
	PagesPerRange int
	Autosummarize bool
}

func DefaultOptions() Options {
	return Options{PagesPerRange: DefaultPagesPerRange}
}

func (o Options) Validate() error {
	if o.PagesPerRange < 1 {
		return fmt.Errorf("brin: pages_per_range must be at least 1, got %d", o.PagesPerRange)
	}
	return nil
}

// ParseOptions fills an Options from generic reloption strings, applying
// defaults for keys not present.
func ParseOptions(raw map[string]string) (Options, error) {
	opts := DefaultOptions()
	for k, v := range raw {
		switch k {
		case "pages_per_range":
			n, err := strconv.Atoi(v)
			if err != nil {
				return opts, fmt.Errorf("brin: invalid pages_per_range %q: %w", v, err)
			}
			opts.PagesPerRange = n
		case "autosummarize":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return opts, fmt.Errorf("brin: invalid autosummarize %q: %w", v, err)
			}
			opts.Autosummarize = b
		default:
			return opts, fmt.Errorf("brin: unrecognized parameter %q", k)
		}
	}
	return opts, opts.Validate()
}

// AmRoutine reports the access method's capabilities to the caller.
type AmRoutine struct {
	CanMultiCol           bool
	OptionalKey           bool
	SearchNulls           bool
	Storage               bool
	ParallelBuild         bool
	ParallelScan          bool
	Clusterable           bool
	Unique                bool
	Summarizing           bool
	VacuumParallelCleanup bool
}

// Routine returns the capability flags of this access method.
func Routine() AmRoutine {
	return AmRoutine{
		CanMultiCol:           true,
		OptionalKey:           true,
		SearchNulls:           true,
		Storage:               true,
		ParallelBuild:         true,
		ParallelScan:          false,
		Clusterable:           false,
		Unique:                false,
		Summarizing:           true,
		VacuumParallelCleanup: true,
	}
}
