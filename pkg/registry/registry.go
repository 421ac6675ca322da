// pkg/registry/registry.go
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LoadRegistry reads the manifest at path and resolves artifact paths
// against its directory.
func LoadRegistry(path string) (*ArtifactRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var reg ArtifactRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode registry %s: %w", path, err)
	}
	if reg.Artifacts.Model == "" || reg.Artifacts.Reference == "" {
		return nil, fmt.Errorf("registry %s must list model and reference artifacts", path)
	}

	dir := filepath.Dir(path)
	reg.Artifacts.Model = resolve(dir, reg.Artifacts.Model)
	reg.Artifacts.Encoders = resolve(dir, reg.Artifacts.Encoders)
	reg.Artifacts.Scaler = resolve(dir, reg.Artifacts.Scaler)
	reg.Artifacts.Reference = resolve(dir, reg.Artifacts.Reference)

	return &reg, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Verify checks every listed sha256 checksum. Keys are the artifact names
// used in Artifacts: model, encoders, scaler, reference.
func (r *ArtifactRegistry) Verify() error {
	paths := map[string]string{
		"model":     r.Artifacts.Model,
		"encoders":  r.Artifacts.Encoders,
		"scaler":    r.Artifacts.Scaler,
		"reference": r.Artifacts.Reference,
	}

	for name, want := range r.Checksums {
		path, ok := paths[name]
		if !ok || path == "" {
			return fmt.Errorf("checksum listed for unknown artifact %q", name)
		}
		got, err := fileSHA256(path)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", name, err)
		}
		if !strings.EqualFold(got, strings.TrimPrefix(want, "sha256:")) {
			return fmt.Errorf("checksum mismatch for %s: got %s", name, got)
		}
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Stamp recomputes the checksums of every artifact listed in the manifest
// at path and writes them back with a new lastUpdated time. A non-empty
// version replaces the manifest version. Artifact paths are left as
// written.
func Stamp(path, version string, now time.Time) (*ArtifactRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var reg ArtifactRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode registry %s: %w", path, err)
	}
	if reg.Artifacts.Model == "" || reg.Artifacts.Reference == "" {
		return nil, fmt.Errorf("registry %s must list model and reference artifacts", path)
	}

	dir := filepath.Dir(path)
	listed := map[string]string{
		"model":     reg.Artifacts.Model,
		"encoders":  reg.Artifacts.Encoders,
		"scaler":    reg.Artifacts.Scaler,
		"reference": reg.Artifacts.Reference,
	}
	reg.Checksums = make(map[string]string, len(listed))
	for name, p := range listed {
		if p == "" {
			continue
		}
		sum, err := fileSHA256(resolve(dir, p))
		if err != nil {
			return nil, fmt.Errorf("checksum %s: %w", name, err)
		}
		reg.Checksums[name] = "sha256:" + sum
	}

	if version != "" {
		reg.Version = version
	}
	reg.LastUpdated = now.UTC().Format(time.RFC3339)

	out, err := json.MarshalIndent(&reg, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("write registry %s: %w", path, err)
	}
	return &reg, nil
}
