package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadPrompt читает <dir>/<name>. Пустой или отсутствующий файл: def.
func LoadPrompt(dir, name, def string) string {
	if s, err := ReadPrompt(dir, name); err == nil {
		return s
	}
	return def
}

func ReadPrompt(dir, name string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("prompts dir is empty")
	}
	p := filepath.Join(dir, name)
	b, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", fmt.Errorf("prompt %s is empty", p)
	}
	return s, nil
}
