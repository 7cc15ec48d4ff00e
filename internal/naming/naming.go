// Package naming derives output file names from source file names and
// orders file names the way people read numbered screenshots.
package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Defaults keep the whole stem and append "_cropped".
const (
	DefaultPattern     = `(.+)`
	DefaultReplacement = `\1_cropped`
	fallbackSuffix     = "_cropped"
)

// Rule is a regex search/replace applied to a file name's stem; the
// extension is carried over unchanged.
type Rule struct {
	Pattern     string `json:"naming_pattern" yaml:"naming_pattern"`
	Replacement string `json:"naming_replacement" yaml:"naming_replacement"`

	re   *regexp.Regexp
	repl string
}

// DefaultRule returns the stock naming rule.
func DefaultRule() Rule {
	return Rule{Pattern: DefaultPattern, Replacement: DefaultReplacement}
}

// Compile validates the pattern and prepares the replacement template.
func (r *Rule) Compile() error {
	pattern := r.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid naming pattern %q: %w", r.Pattern, err)
	}
	r.re = re
	r.repl = Template(r.Replacement)
	return nil
}

// Apply returns the output file name for a source file name. A stem the
// pattern does not match, or one that would be replaced with nothing, gets
// the "_cropped" suffix instead.
func (r *Rule) Apply(filename string) (string, error) {
	if r.re == nil {
		if err := r.Compile(); err != nil {
			return "", err
		}
	}
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	if r.re.MatchString(stem) {
		if name := r.re.ReplaceAllString(stem, r.repl); name != "" {
			return name + ext, nil
		}
	}
	return stem + fallbackSuffix + ext, nil
}

var (
	backslashGroup = regexp.MustCompile(`\\(\d+)`)
	namedGroup     = regexp.MustCompile(`\\g<(\w+)>`)
)

// Template converts a replacement written with \1 or \g<name> back
// references into Go's ${1} template syntax. Literal dollar signs are
// escaped; templates already using ${...} pass through.
func Template(replacement string) string {
	if strings.Contains(replacement, "${") {
		return replacement
	}
	out := strings.ReplaceAll(replacement, "$", "$$")
	out = namedGroup.ReplaceAllString(out, "$${$1}")
	out = backslashGroup.ReplaceAllString(out, "$${$1}")
	return out
}

// NaturalLess orders names so that digit runs compare by value: "shot2"
// sorts before "shot10". Digit runs sort before text; text compares
// case-insensitively. Names equal under those rules fall back to byte order.
func NaturalLess(a, b string) bool {
	ca, cb := chunks(a), chunks(b)
	for i := 0; i < len(ca) && i < len(cb); i++ {
		x, y := ca[i], cb[i]
		if x.numeric != y.numeric {
			return x.numeric
		}
		if x.numeric {
			if c := compareDigits(x.text, y.text); c != 0 {
				return c < 0
			}
			continue
		}
		if lx, ly := strings.ToLower(x.text), strings.ToLower(y.text); lx != ly {
			return lx < ly
		}
	}
	if len(ca) != len(cb) {
		return len(ca) < len(cb)
	}
	return a < b
}

type chunk struct {
	text    string
	numeric bool
}

func chunks(s string) []chunk {
	var out []chunk
	for i := 0; i < len(s); {
		numeric := isDigit(s[i])
		j := i + 1
		for j < len(s) && isDigit(s[j]) == numeric {
			j++
		}
		out = append(out, chunk{text: s[i:j], numeric: numeric})
		i = j
	}
	return out
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// compareDigits compares two runs of ASCII digits by numeric value without
// overflowing on long runs.
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
