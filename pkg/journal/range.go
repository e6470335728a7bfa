package journal

import (
	"math"
	"strconv"
	"strings"

	"keelstore/pkg/errs"
)

// RangePredicate selects 64-bit values against "*" or a comma-separated
// list of terms: n, n-m, -m, or n-.
type RangePredicate struct {
	left  []int64
	right []int64
}

// ParseRange compiles a range specification.
func ParseRange(spec string) (*RangePredicate, error) {
	p := &RangePredicate{}
	if spec == "*" {
		return p, nil
	}
	for _, term := range strings.Split(spec, ",") {
		parts := strings.Split(term, "-")
		switch len(parts) {
		case 1:
			v, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				return nil, errs.Newf(errs.KindInvalidArgument,
					"invalid term %q in range specification %q", term, spec)
			}
			p.left = append(p.left, v)
			p.right = append(p.right, v)
		case 2:
			lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
			var err error
			if parts[0] != "" {
				if lo, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
					return nil, errs.Newf(errs.KindInvalidArgument,
						"invalid term %q in range specification %q", term, spec)
				}
			}
			if parts[1] != "" {
				if hi, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
					return nil, errs.Newf(errs.KindInvalidArgument,
						"invalid term %q in range specification %q", term, spec)
				}
			}
			p.left = append(p.left, lo)
			p.right = append(p.right, hi)
		default:
			return nil, errs.Newf(errs.KindInvalidArgument,
				"invalid term %q in range specification %q", term, spec)
		}
	}
	return p, nil
}

// IsSelected reports whether any term includes v. An empty predicate
// (compiled from "*") selects everything.
func (p *RangePredicate) IsSelected(v int64) bool {
	if len(p.left) == 0 {
		return true
	}
	for i := range p.left {
		if p.left[i] <= v && p.right[i] >= v {
			return true
		}
	}
	return false
}
