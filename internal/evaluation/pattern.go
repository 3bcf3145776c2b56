package evaluation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPattern — шаблон кодов не удалось разобрать.
var ErrInvalidPattern = errors.New("invalid status code pattern")

type codeRange struct {
	min, max int
}

// CodePattern — разобранный шаблон HTTP-кодов: литералы и диапазоны min-max
// через запятую, например "200,201,300-399".
type CodePattern struct {
	ranges []codeRange
}

// ParsePattern разбирает шаблон кодов.
func ParsePattern(s string) (CodePattern, error) {
	var p CodePattern
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return CodePattern{}, fmt.Errorf("%w: %q", ErrInvalidPattern, part)
		}
		to := from
		if isRange {
			if to, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return CodePattern{}, fmt.Errorf("%w: %q", ErrInvalidPattern, part)
			}
		}
		if to < from {
			return CodePattern{}, fmt.Errorf("%w: %q has min > max", ErrInvalidPattern, part)
		}
		p.ranges = append(p.ranges, codeRange{min: from, max: to})
	}

	if len(p.ranges) == 0 {
		return CodePattern{}, fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	return p, nil
}

// Match проверяет, попадает ли код в шаблон.
func (p CodePattern) Match(code int) bool {
	for _, r := range p.ranges {
		if code >= r.min && code <= r.max {
			return true
		}
	}
	return false
}

// MatchCode разбирает шаблон и проверяет код.
func MatchCode(pattern string, code int) (bool, error) {
	p, err := ParsePattern(pattern)
	if err != nil {
		return false, err
	}
	return p.Match(code), nil
}
