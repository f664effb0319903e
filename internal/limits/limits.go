// Package limits implements the pure policy that clamps caller-supplied run
// limits against a per-installation maximum (spec §4.1).
package limits

import (
	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"
)

// Limits is the record of the six bounded fields every run is governed by.
type Limits struct {
	WallMS          int64 `json:"wall_ms"`
	MemoryMiB       int64 `json:"memory_mib"`
	CPUMS           int64 `json:"cpu_ms"`
	MaxOutputBytes  int64 `json:"max_output_bytes"`
	MaxArtifactByte int64 `json:"max_artifact_bytes"`
	MaxArtifactFile int64 `json:"max_artifact_files"`
}

// Defaults is the installation's out-of-the-box limits, used whenever a
// request field is left unset.
type Defaults struct {
	Values Limits
}

// Maximums is the installation's hard ceiling; no merged field may exceed it.
type Maximums struct {
	Values Limits
}

// Policy pairs the defaults and maximums an installation is configured with.
// The zero value is not usable; construct with New.
type Policy struct {
	defaults Limits
	maximums Limits
}

// New builds a Policy, validating that every default is within its maximum
// and that nothing is zero or negative (the maximums double as the
// never-zero floor check since a maximum of zero would reject everything).
func New(def Defaults, max Maximums) (p *Policy, err kv.Error) {
	fields := fieldsOf(&def.Values)
	maxFields := fieldsOf(&max.Values)
	for i, f := range fields {
		if *f <= 0 {
			return nil, kv.NewError("default limit must be positive").With("field", fieldNames[i], "stack", stack.Trace().TrimRuntime())
		}
		if *maxFields[i] <= 0 {
			return nil, kv.NewError("maximum limit must be positive").With("field", fieldNames[i], "stack", stack.Trace().TrimRuntime())
		}
		if *f > *maxFields[i] {
			return nil, kv.NewError("default limit exceeds configured maximum").With("field", fieldNames[i], "stack", stack.Trace().TrimRuntime())
		}
	}
	return &Policy{defaults: def.Values, maximums: max.Values}, nil
}

var fieldNames = []string{"wall_ms", "memory_mib", "cpu_ms", "max_output_bytes", "max_artifact_bytes", "max_artifact_files"}

func fieldsOf(l *Limits) []*int64 {
	return []*int64{&l.WallMS, &l.MemoryMiB, &l.CPUMS, &l.MaxOutputBytes, &l.MaxArtifactByte, &l.MaxArtifactFile}
}

// Partial is the caller-supplied override; a nil pointer means "use the
// installation default" for that field.
type Partial struct {
	WallMS          *int64
	MemoryMiB       *int64
	CPUMS           *int64
	MaxOutputBytes  *int64
	MaxArtifactByte *int64
	MaxArtifactFile *int64
}

// Merge clamps a partial request against the policy's defaults and maximums.
// Missing fields take the default; any field exceeding the maximum, or that
// is zero/negative, fails with the offending field named. Merge is pure and
// its result is idempotent: merging an already-effective Limits back through
// Merge returns the same value.
func (p *Policy) Merge(partial Partial) (effective Limits, err kv.Error) {
	effective = p.defaults

	overrides := []struct {
		name string
		in   *int64
		out  *int64
		max  int64
	}{
		{"wall_ms", partial.WallMS, &effective.WallMS, p.maximums.WallMS},
		{"memory_mib", partial.MemoryMiB, &effective.MemoryMiB, p.maximums.MemoryMiB},
		{"cpu_ms", partial.CPUMS, &effective.CPUMS, p.maximums.CPUMS},
		{"max_output_bytes", partial.MaxOutputBytes, &effective.MaxOutputBytes, p.maximums.MaxOutputBytes},
		{"max_artifact_bytes", partial.MaxArtifactByte, &effective.MaxArtifactByte, p.maximums.MaxArtifactByte},
		{"max_artifact_files", partial.MaxArtifactFile, &effective.MaxArtifactFile, p.maximums.MaxArtifactFile},
	}

	for _, o := range overrides {
		if o.in == nil {
			continue
		}
		if *o.in <= 0 {
			return Limits{}, kv.NewError("limit must be positive").With("field", o.name, "stack", stack.Trace().TrimRuntime())
		}
		if *o.in > o.max {
			return Limits{}, kv.NewError("limit exceeds configured maximum").With("field", o.name, "max", o.max, "stack", stack.Trace().TrimRuntime())
		}
		*o.out = *o.in
	}

	return effective, nil
}

// Defaults returns the policy's unmodified defaults, useful for callers that
// want to present them without building a Partial.
func (p *Policy) Defaults() Limits {
	return p.defaults
}

// Maximums returns the policy's hard ceiling values.
func (p *Policy) Maximums() Limits {
	return p.maximums
}
