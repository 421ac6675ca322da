package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadRegistry_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "registry.json", `{
		"version": "2024.06.1",
		"artifacts": {"model": "model.txt", "reference": "/abs/reference.csv", "encoders": "encoders.json"}
	}`)

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	assert.Equal(t, "2024.06.1", reg.Version)
	assert.Equal(t, filepath.Join(dir, "model.txt"), reg.Artifacts.Model)
	assert.Equal(t, "/abs/reference.csv", reg.Artifacts.Reference)
	assert.Equal(t, filepath.Join(dir, "encoders.json"), reg.Artifacts.Encoders)
	assert.Empty(t, reg.Artifacts.Scaler)
}

func TestLoadRegistry_RequiresModelAndReference(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "registry.json", `{"version": "1", "artifacts": {"model": "model.txt"}}`)

	_, err := LoadRegistry(path)
	assert.ErrorContains(t, err, "must list model and reference")
}

func TestArtifactRegistry_Verify(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "model.txt", "tree\n")
	writeFile(t, dir, "reference.csv", "Sex,BMI\n")

	sum := sha256.Sum256([]byte("tree\n"))
	good := hex.EncodeToString(sum[:])

	path := writeFile(t, dir, "registry.json", `{
		"version": "1",
		"artifacts": {"model": "model.txt", "reference": "reference.csv"},
		"checksums": {"model": "sha256:`+good+`"}
	}`)
	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.NoError(t, reg.Verify())

	reg.Checksums["reference"] = good
	assert.ErrorContains(t, reg.Verify(), "checksum mismatch for reference")

	delete(reg.Checksums, "reference")
	reg.Checksums["scaler"] = good
	assert.ErrorContains(t, reg.Verify(), "unknown artifact")
}

func TestStamp_WritesChecksumsThatVerify(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "model.txt", "tree\n")
	writeFile(t, dir, "reference.csv", "Sex,BMI\n")
	path := writeFile(t, dir, "registry.json", `{
		"version": "1",
		"artifacts": {"model": "model.txt", "reference": "reference.csv"}
	}`)

	now := time.Date(2024, 6, 14, 9, 30, 0, 0, time.UTC)
	stamped, err := Stamp(path, "2", now)
	require.NoError(t, err)
	assert.Equal(t, "2", stamped.Version)
	assert.Equal(t, "2024-06-14T09:30:00Z", stamped.LastUpdated)
	assert.Len(t, stamped.Checksums, 2)
	assert.Equal(t, "model.txt", stamped.Artifacts.Model, "paths stay relative")

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, "2", reg.Version)
	assert.NoError(t, reg.Verify())
}

func TestStamp_MissingArtifact(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "model.txt", "tree\n")
	path := writeFile(t, dir, "registry.json", `{
		"version": "1",
		"artifacts": {"model": "model.txt", "reference": "reference.csv"}
	}`)

	_, err := Stamp(path, "", time.Now())
	assert.ErrorContains(t, err, "checksum reference")
}
