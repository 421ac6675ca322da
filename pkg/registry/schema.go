// pkg/registry/schema.go
package registry

// ArtifactRegistry is the manifest written next to the exported artifacts.
type ArtifactRegistry struct {
	Version     string            `json:"version"`
	LastUpdated string            `json:"lastUpdated"`
	Artifacts   Artifacts         `json:"artifacts"`
	Checksums   map[string]string `json:"checksums,omitempty"`
}

// Artifacts holds paths relative to the manifest directory.
type Artifacts struct {
	Model     string `json:"model"`
	Encoders  string `json:"encoders,omitempty"`
	Scaler    string `json:"scaler,omitempty"`
	Reference string `json:"reference"`
}
