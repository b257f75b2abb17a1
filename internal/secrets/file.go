package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileProvider reads secrets from a JSON object file. The file is read once.
type FileProvider struct {
	path string
	data map[string]string
}

// NewFileProvider loads path.
func NewFileProvider(path string) (*FileProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("file path required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load secrets file: %w", err)
	}
	data := make(map[string]string)
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse secrets file %s: %w", path, err)
	}
	return &FileProvider{path: path, data: data}, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(ctx context.Context, key string) (string, error) {
	val, ok := p.data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return val, nil
}
