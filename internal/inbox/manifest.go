package inbox

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/snarg/clip-engine/internal/batch"
)

// Supported reports whether path has a manifest extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".yaml", ".yml":
		return true
	}
	return false
}

// ParseManifest reads a batch manifest. A .txt file lists one URL per line
// ('#' starts a comment). A .yaml file holds {name, run_id, sources}. The
// run name defaults to the file name without its extension.
func ParseManifest(path string) (batch.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return batch.Request{}, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var req batch.Request
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			line := sc.Text()
			if i := strings.Index(line, "#"); i >= 0 {
				line = line[:i]
			}
			if line = strings.TrimSpace(line); line != "" {
				req.Sources = append(req.Sources, line)
			}
		}
		if err := sc.Err(); err != nil {
			return batch.Request{}, fmt.Errorf("read %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &req); err != nil {
			return batch.Request{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return batch.Request{}, fmt.Errorf("unsupported manifest %s", path)
	}

	if req.Name == "" && req.RunID == "" {
		req.Name = base
	}
	if len(req.URLs()) == 0 {
		return batch.Request{}, fmt.Errorf("manifest %s lists no sources", path)
	}
	return req, nil
}
