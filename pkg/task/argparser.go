// Package task hosts long-running administrative operations: the integrity
// check and the journal scan, with their declarative argument templates.
package task

import (
	"strconv"
	"strings"

	"keelstore/pkg/errs"
)

// ArgKind selects the parser for one argument.
type ArgKind int

const (
	KindString ArgKind = iota
	KindInt
	KindLong
)

// ArgSpec declares one named argument: its type, default and bounds. Flags
// are declared separately on the template.
type ArgSpec struct {
	Name    string
	Kind    ArgKind
	Default string
	Min     int64
	Max     int64
	Help    string
}

// Template is a full argument declaration for one task.
type Template struct {
	Args  []ArgSpec
	Flags string // accepted single-letter flags
}

// Parsed holds the parse result.
type Parsed struct {
	template Template
	values   map[string]string
	defaults map[string]bool
	flags    map[byte]bool
}

// Parse matches tokens of the form name=value against the template;
// remaining tokens are flag groups whose letters must all be declared.
func (t Template) Parse(tokens []string) (*Parsed, error) {
	p := &Parsed{
		template: t,
		values:   make(map[string]string),
		defaults: make(map[string]bool),
		flags:    make(map[byte]bool),
	}
	specs := make(map[string]ArgSpec, len(t.Args))
	for _, spec := range t.Args {
		specs[spec.Name] = spec
		p.values[spec.Name] = spec.Default
		p.defaults[spec.Name] = true
	}

	for _, token := range tokens {
		if eq := strings.IndexByte(token, '='); eq >= 0 {
			name, value := token[:eq], token[eq+1:]
			spec, ok := specs[name]
			if !ok {
				return nil, errs.Newf(errs.KindInvalidArgument, "unknown argument %q", name)
			}
			if spec.Kind != KindString {
				v, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					return nil, errs.Newf(errs.KindInvalidArgument, "argument %s requires a number, got %q", name, value)
				}
				if v < spec.Min || v > spec.Max {
					return nil, errs.Newf(errs.KindInvalidArgument,
						"argument %s value %d outside [%d,%d]", name, v, spec.Min, spec.Max)
				}
			}
			p.values[name] = value
			p.defaults[name] = false
			continue
		}
		for i := 0; i < len(token); i++ {
			c := token[i]
			if !strings.ContainsRune(t.Flags, rune(c)) {
				return nil, errs.Newf(errs.KindInvalidArgument, "unknown flag %q", string(c))
			}
			p.flags[c] = true
		}
	}
	return p, nil
}

// String returns a named argument's value.
func (p *Parsed) String(name string) string { return p.values[name] }

// Int returns a named argument as an int.
func (p *Parsed) Int(name string) int {
	v, _ := strconv.Atoi(p.values[name])
	return v
}

// Long returns a named argument as an int64.
func (p *Parsed) Long(name string) int64 {
	v, _ := strconv.ParseInt(p.values[name], 10, 64)
	return v
}

// IsFlag reports whether a flag letter was given.
func (p *Parsed) IsFlag(flag byte) bool { return p.flags[flag] }

// IsDefault reports whether the argument kept its default.
func (p *Parsed) IsDefault(name string) bool { return p.defaults[name] }
