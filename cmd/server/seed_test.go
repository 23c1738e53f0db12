package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSeedFile(t *testing.T) {
	path := writeSeed(t, `
items:
  - dataset_name: faq
    id: q-001
    content:
      question: 如何重置密码？
  - dataset_name: faq
    bucket: 3
    id: q-002
`)

	req, err := loadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, req.Items, 2)
	assert.Equal(t, "faq", req.Items[0].DatasetName)
	assert.Nil(t, req.Items[0].Bucket)
	assert.Equal(t, "如何重置密码？", req.Items[0].Content["question"])
	require.NotNil(t, req.Items[1].Bucket)
	assert.Equal(t, 3, *req.Items[1].Bucket)
}

func TestLoadSeedFile_Invalid(t *testing.T) {
	_, err := loadSeedFile(writeSeed(t, "items: []\n"))
	assert.Error(t, err)

	_, err = loadSeedFile(writeSeed(t, "items:\n  - id: q-1\n"))
	assert.Error(t, err)

	_, err = loadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
