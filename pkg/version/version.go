// Package version generates publish version identifiers.
package version

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// Generator produces version ids from a strftime layout.
type Generator struct {
	Format string
	Now    func() time.Time
}

// NewGenerator returns a generator using the current UTC time.
func NewGenerator(format string) *Generator {
	return &Generator{Format: format, Now: time.Now}
}

// Next returns a version id that sorts strictly after previous. The
// timestamp form is used when it already does; otherwise a "-NNN" counter
// is appended to previous.
func (g *Generator) Next(previous string) string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	candidate := strftime.Format(g.Format, now().UTC())
	if previous == "" || candidate > previous {
		return candidate
	}
	return bump(previous)
}

func bump(previous string) string {
	i := strings.LastIndexByte(previous, '-')
	if i >= 0 {
		suffix := previous[i+1:]
		if n, err := strconv.Atoi(suffix); err == nil && len(suffix) == 3 && n < 999 {
			return fmt.Sprintf("%s-%03d", previous[:i], n+1)
		}
	}
	return previous + "-001"
}
