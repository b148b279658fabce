package batch

import (
	"encoding/json"
	"os"
)

// ManifestName is the manifest entry inside a batch archive.
const ManifestName = "manifest.json"

// Manifest summarizes a batch archive.
type Manifest struct {
	Archive   string   `json:"archive"`
	Mode      Mode     `json:"mode"`
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Items     []Result `json:"items"`
}

// BuildManifest encodes the manifest of a finished batch.
func BuildManifest(mode Mode, archive string, results []Result) ([]byte, error) {
	m := Manifest{Archive: archive, Mode: mode, Total: len(results), Items: results}
	for _, r := range results {
		if r.Success {
			m.Succeeded++
		}
	}
	return json.MarshalIndent(m, "", "  ")
}

// WriteManifest writes the manifest of out to path.
func WriteManifest(path string, mode Mode, out *Output) error {
	data, err := BuildManifest(mode, out.Name, out.Results)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
