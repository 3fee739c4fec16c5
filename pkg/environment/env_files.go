package environment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paperwave/paperwave/pkg/paths"
)

type KeyValuePair struct {
	Key   string
	Value string
}

// EnvFilesProvider serves variables parsed from KEY=VALUE files, later
// files overriding earlier ones.
type EnvFilesProvider struct {
	values map[string]string
}

func NewEnvFilesProvider(relOrAbsPaths []string) (*EnvFilesProvider, error) {
	absPaths, err := AbsolutePaths(relOrAbsPaths)
	if err != nil {
		return nil, err
	}

	pairs, err := ReadEnvFiles(absPaths)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		values[pair.Key] = pair.Value
	}

	return &EnvFilesProvider{values: values}, nil
}

func (p *EnvFilesProvider) Get(_ context.Context, name string) string {
	return p.values[name]
}

func AbsolutePaths(relOrAbsPaths []string) ([]string, error) {
	var absPaths []string

	for _, relOrAbsPath := range relOrAbsPaths {
		absPath, err := AbsolutePath(relOrAbsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", relOrAbsPath, err)
		}
		absPaths = append(absPaths, absPath)
	}

	return absPaths, nil
}

func AbsolutePath(relOrAbsPath string) (string, error) {
	p, err := expandTildePath(relOrAbsPath)
	if err != nil {
		return "", err
	}

	return filepath.Abs(p)
}

// expandTildePath expands ~ in file paths to the user's home directory
func expandTildePath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}

	homeDir := paths.GetHomeDir()
	if homeDir == "" {
		return "", fmt.Errorf("failed to get user home directory")
	}

	if p == "~" {
		return homeDir, nil
	}

	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir, p[2:]), nil
	}

	// ~username/ form is not supported
	return "", fmt.Errorf("unsupported tilde expansion format: %s", p)
}

func ReadEnvFiles(absolutePaths []string) ([]KeyValuePair, error) {
	if len(absolutePaths) == 0 {
		return nil, nil
	}

	var allLines []KeyValuePair

	for _, absolutePath := range absolutePaths {
		lines, err := ReadEnvFile(absolutePath)
		if err != nil {
			return nil, err
		}
		allLines = append(allLines, lines...)
	}

	return allLines, nil
}

func ReadEnvFile(absolutePath string) ([]KeyValuePair, error) {
	buf, err := os.ReadFile(absolutePath)
	if err != nil {
		return nil, err
	}

	var lines []KeyValuePair

	for line := range strings.SplitSeq(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid env file line: %s", line)
		}

		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)

		if strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
			v = strings.TrimSuffix(strings.TrimPrefix(v, `"`), `"`)
		}

		lines = append(lines, KeyValuePair{
			Key:   k,
			Value: v,
		})
	}

	return lines, nil
}
