package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixed(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGenerator_Format(t *testing.T) {
	g := &Generator{Format: "%Y.%m.%d.%H%M%S", Now: fixed(time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC))}
	assert.Equal(t, "2024.03.09.070501", g.Next(""))
}

func TestGenerator_Monotonic(t *testing.T) {
	at := time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC)
	g := &Generator{Format: "%Y.%m.%d", Now: fixed(at)}

	v1 := g.Next("")
	v2 := g.Next(v1)
	v3 := g.Next(v2)
	assert.Equal(t, "2024.03.09", v1)
	assert.Equal(t, "2024.03.09-001", v2)
	assert.Equal(t, "2024.03.09-002", v3)
	assert.Less(t, v1, v2)
	assert.Less(t, v2, v3)

	// A clock behind the last version still moves forward
	g.Now = fixed(at.Add(-48 * time.Hour))
	v4 := g.Next(v3)
	assert.Less(t, v3, v4)

	// Next day drops the counter
	g.Now = fixed(at.Add(24 * time.Hour))
	assert.Equal(t, "2024.03.10", g.Next(v3))
}

func TestBump_Overflow(t *testing.T) {
	prev := "2024.03.09-999"
	next := bump(prev)
	assert.Equal(t, "2024.03.09-999-001", next)
	assert.Less(t, prev, next)
}

func TestGenerator_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	g := &Generator{Format: "%H", Now: fixed(time.Date(2024, 1, 1, 3, 0, 0, 0, loc))}
	assert.Equal(t, "22", g.Next(""))
}
