package telemetry

import (
	"fmt"
	"sort"
	"strings"
)

// Directive is the global verbosity filter: a default level plus per-target
// overrides, e.g. "info,gin=warn,http=debug". The longest matching target
// prefix wins.
type Directive struct {
	def   Level
	rules []directiveRule
}

type directiveRule struct {
	target string
	level  Level
}

// NewDirective returns a directive that applies one level to every target.
func NewDirective(def Level) *Directive {
	return &Directive{def: def}
}

// ParseDirective parses a comma-separated filter expression. An entry without
// "=" sets the default level; a bare target enables it at trace.
func ParseDirective(s string) (*Directive, error) {
	d := &Directive{def: ErrorLevel}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		target, levelName, found := strings.Cut(part, "=")
		if !found {
			if lvl, err := ParseLevel(part); err == nil {
				d.def = lvl
				continue
			}
			d.rules = append(d.rules, directiveRule{target: part, level: TraceLevel})
			continue
		}
		lvl, err := ParseLevel(levelName)
		if err != nil {
			return nil, fmt.Errorf("directive %q: %w", part, err)
		}
		d.rules = append(d.rules, directiveRule{target: strings.TrimSpace(target), level: lvl})
	}
	sort.SliceStable(d.rules, func(i, j int) bool {
		return len(d.rules[i].target) > len(d.rules[j].target)
	})
	return d, nil
}

// LevelFor returns the threshold applied to target.
func (d *Directive) LevelFor(target string) Level {
	for _, r := range d.rules {
		if strings.HasPrefix(target, r.target) {
			return r.level
		}
	}
	return d.def
}

// Enabled reports whether the directive lets the callsite through.
func (d *Directive) Enabled(meta *Metadata) bool {
	return meta.Level.AtLeast(d.LevelFor(meta.Target))
}

// MaxLevel returns the most verbose level any target is enabled at.
func (d *Directive) MaxLevel() Level {
	lvl := d.def
	for _, r := range d.rules {
		if r.level < lvl {
			lvl = r.level
		}
	}
	return lvl
}

func (d *Directive) String() string {
	parts := []string{d.def.String()}
	for i := len(d.rules) - 1; i >= 0; i-- {
		parts = append(parts, d.rules[i].target+"="+d.rules[i].level.String())
	}
	return strings.Join(parts, ",")
}
