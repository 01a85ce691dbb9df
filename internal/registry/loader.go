package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// LoadDir scans a directory for *.gguf files and builds a registry from
// filenames. ID is the filename without extension; Path is the absolute file
// path; Quant is derived from the filename when recognizable.
func LoadDir(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		m := types.Model{
			ID:    id,
			Name:  id,
			Path:  filepath.Join(abs, name),
			Quant: quantFromName(id),
		}
		if fi, err := e.Info(); err == nil {
			m.SizeMB = int(fi.Size() / (1024 * 1024))
		}
		models = append(models, m)
	}
	return models, nil
}

// quantFromName extracts a quantization tag like Q4_K_M from a model
// filename, or returns "" when none is recognizable.
func quantFromName(id string) string {
	for _, part := range strings.Split(id, ".") {
		up := strings.ToUpper(part)
		if len(up) >= 2 && up[0] == 'Q' && up[1] >= '0' && up[1] <= '9' {
			return up
		}
	}
	return ""
}
