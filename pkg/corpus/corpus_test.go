package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cvitracer/cvitracer/pkg/rule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIsSpecialFile(t *testing.T) {
	assert.True(t, IsSpecialFile("/project/node_modules/pkg/index.js"))
	assert.True(t, IsSpecialFile("/project/bower_components/x.js"))
	assert.True(t, IsSpecialFile("/project/vendor/jquery.min.js"))
	assert.False(t, IsSpecialFile("/project/src/index.js"))
}

func TestNewWalksAndSortsFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b/second.php", "<?php echo 1;")
	writeFile(t, dir, "a/first.php", "<?php echo 2;")
	writeFile(t, dir, "vendor/skip.php", "<?php echo 3;")
	writeFile(t, dir, "node_modules/skip.js", "console.log(1)")

	c, err := New(dir, nil)
	require.NoError(t, err)

	all := c.AllFiles()
	require.Len(t, all, 2)
	assert.Equal(t, "a/first.php", all[0].RelPath)
	assert.Equal(t, "b/second.php", all[1].RelPath)
}

func TestFilesFiltersByLanguageExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.php", "<?php")
	writeFile(t, dir, "b.sol", "pragma solidity;")

	c, err := New(dir, nil)
	require.NoError(t, err)

	php := c.Files(rule.PHP)
	require.Len(t, php, 1)
	assert.Equal(t, "a.php", php[0].RelPath)

	sol := c.Files(rule.Solidity)
	require.Len(t, sol, 1)
	assert.Equal(t, "b.sol", sol[0].RelPath)
}

func TestNewExplicitFileList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.php", "<?php")
	writeFile(t, dir, "b.php", "<?php")

	c, err := New(dir, []string{"a.php"})
	require.NoError(t, err)
	assert.Len(t, c.AllFiles(), 1)
}

func TestReadAndLine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.php", "<?php\necho $_GET['x'];\n")

	c, err := New(dir, nil)
	require.NoError(t, err)

	abs := c.AllFiles()[0].AbsPath
	content, err := c.Read(abs)
	require.NoError(t, err)
	assert.Contains(t, string(content), "$_GET")

	assert.Equal(t, "<?php", c.Line(abs, 1))
	assert.Equal(t, "echo $_GET['x'];", c.Line(abs, 2))
	assert.Equal(t, "", c.Line(abs, 99))
	assert.Equal(t, "", c.Line(abs, 0))
}

func TestRelPathNeverLeaksAbsolutePrefix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sub/a.php", "<?php")

	c, err := New(dir, nil)
	require.NoError(t, err)

	abs := c.AllFiles()[0].AbsPath
	rel := c.RelPath(abs)
	assert.Equal(t, "sub/a.php", rel)
	assert.False(t, filepath.IsAbs(rel))
}
