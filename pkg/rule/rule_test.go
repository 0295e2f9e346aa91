package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreToLevel(t *testing.T) {
	cases := []struct {
		score int
		want  Level
	}{
		{1, LevelLow},
		{2, LevelLow},
		{3, LevelMedium},
		{5, LevelMedium},
		{6, LevelHigh},
		{8, LevelHigh},
		{9, LevelCritical},
		{10, LevelCritical},
		{0, LevelUnknown},
		{11, LevelUnknown},
		{-1, LevelUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ScoreToLevel(c.score), "score %d", c.score)
	}
}

func TestHasExtension(t *testing.T) {
	assert.True(t, HasExtension(PHP, ".php"))
	assert.True(t, HasExtension(PHP, ".phtml"))
	assert.False(t, HasExtension(PHP, ".js"))
	assert.True(t, HasExtension(Solidity, ".sol"))
	assert.False(t, HasExtension(Solidity, ".php"))
}

func TestSynthesize(t *testing.T) {
	parent := Rule{
		ID:        "2001",
		Name:      "XSS",
		Language:  PHP,
		Author:    "secteam",
		Severity:  7,
		Enabled:   true,
		MatchMode: RegexParamControllable,
		Match:     []string{`echo\s*\(`},
		Unmatch:   []string{`htmlspecialchars`},
	}

	child := Synthesize(parent, "wrap_echo", 1)

	assert.Equal(t, parent.ID, child.ID)
	assert.Equal(t, parent.Language, child.Language)
	assert.Equal(t, parent.Severity, child.Severity)
	assert.Equal(t, FunctionParamControllable, child.MatchMode)
	assert.Equal(t, []string{"wrap_echo"}, child.Match)
	assert.Equal(t, "wrap_echo", child.VulFunction)
	assert.Nil(t, child.Unmatch)
	assert.Equal(t, 1, child.Depth)

	// parent is unmodified (Synthesize must not mutate its input).
	assert.Equal(t, RegexParamControllable, parent.MatchMode)
	assert.Equal(t, 0, parent.Depth)
}

func TestRuleLevelAndString(t *testing.T) {
	r := Rule{ID: "2001", Name: "XSS", Language: PHP, Severity: 7}
	assert.Equal(t, LevelHigh, r.Level())
	assert.Contains(t, r.String(), "CVI-2001")
}
