package task

import (
	"regexp"
	"strings"

	"keelstore/pkg/errs"
)

// TreeSelector selects volumes and trees by name. The default grammar is a
// comma-separated list of volume[:tree] patterns with * and ? wildcards;
// regex mode treats each pattern as a regular expression instead.
type TreeSelector struct {
	all   bool
	terms []selectorTerm
}

type selectorTerm struct {
	volume *regexp.Regexp
	tree   *regexp.Regexp // nil selects the whole volume
}

// ParseSelector compiles a selector specification.
func ParseSelector(spec string, regex bool) (*TreeSelector, error) {
	if spec == "" || spec == "*" {
		return &TreeSelector{all: true}, nil
	}
	s := &TreeSelector{}
	for _, termSpec := range strings.Split(spec, ",") {
		var volumePart, treePart string
		if colon := strings.IndexByte(termSpec, ':'); colon >= 0 {
			volumePart, treePart = termSpec[:colon], termSpec[colon+1:]
		} else {
			volumePart = termSpec
		}
		term := selectorTerm{}
		var err error
		if term.volume, err = compilePattern(volumePart, regex); err != nil {
			return nil, err
		}
		if treePart != "" {
			if term.tree, err = compilePattern(treePart, regex); err != nil {
				return nil, err
			}
		}
		s.terms = append(s.terms, term)
	}
	return s, nil
}

func compilePattern(pattern string, regex bool) (*regexp.Regexp, error) {
	expr := pattern
	if !regex {
		var b strings.Builder
		for _, r := range pattern {
			switch r {
			case '*':
				b.WriteString(".*")
			case '?':
				b.WriteString(".")
			default:
				b.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		expr = b.String()
	}
	compiled, err := regexp.Compile("^(?:" + expr + ")$")
	if err != nil {
		return nil, errs.Newf(errs.KindInvalidArgument, "invalid selector pattern %q: %v", pattern, err)
	}
	return compiled, nil
}

// IsSelectAll reports whether the selector is "*".
func (s *TreeSelector) IsSelectAll() bool { return s.all }

// SelectsVolume reports whether any term can match trees of the volume.
func (s *TreeSelector) SelectsVolume(volumeName string) bool {
	if s.all {
		return true
	}
	for _, term := range s.terms {
		if term.volume.MatchString(volumeName) {
			return true
		}
	}
	return false
}

// SelectsWholeVolume reports whether some term selects the volume with no
// tree restriction.
func (s *TreeSelector) SelectsWholeVolume(volumeName string) bool {
	if s.all {
		return true
	}
	for _, term := range s.terms {
		if term.tree == nil && term.volume.MatchString(volumeName) {
			return true
		}
	}
	return false
}

// SelectsTree reports whether the volume:tree pair is selected.
func (s *TreeSelector) SelectsTree(volumeName, treeName string) bool {
	if s.all {
		return true
	}
	for _, term := range s.terms {
		if !term.volume.MatchString(volumeName) {
			continue
		}
		if term.tree == nil || term.tree.MatchString(treeName) {
			return true
		}
	}
	return false
}
