package repair

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBaseCatalogNoProfile(t *testing.T) {
	c, warnings := Load(t.TempDir(), "")
	require.Empty(t, warnings)
	assert.True(t, c.SanitizesRule("htmlspecialchars", "2001"))
	assert.False(t, c.SanitizesRule("htmlspecialchars", "2002"))
	assert.True(t, c.IsSource("$_GET"))
	assert.False(t, c.IsSource("not_a_source"))
}

func TestLoadMissingProfileWarnsAndFallsBack(t *testing.T) {
	c, warnings := Load(t.TempDir(), "does-not-exist")
	require.Len(t, warnings, 1)
	assert.True(t, c.SanitizesRule("htmlspecialchars", "2001"))
}

func TestLoadProfileOverlayWinsOnCollision(t *testing.T) {
	dir := t.TempDir()
	overlay := `
sanitizers:
  htmlspecialchars: ["9999"]
  custom_sanitize: ["9001"]
sources:
  - $_CUSTOM
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.yaml"), []byte(overlay), 0o644))

	c, warnings := Load(dir, "acme")
	require.Empty(t, warnings)

	// Overlay replaces the rule-id set for a colliding sanitizer name.
	assert.True(t, c.SanitizesRule("htmlspecialchars", "9999"))
	assert.False(t, c.SanitizesRule("htmlspecialchars", "2001"), "base rule id dropped by overlay on collision")

	assert.True(t, c.SanitizesRule("custom_sanitize", "9001"))

	// Source lists concatenate rather than overwrite.
	assert.True(t, c.IsSource("$_GET"))
	assert.True(t, c.IsSource("$_CUSTOM"))
}

func TestCatalogNilReceiverIsSafe(t *testing.T) {
	var c *Catalog
	assert.False(t, c.IsSource("$_GET"))
	assert.False(t, c.SanitizesRule("htmlspecialchars", "2001"))
}
