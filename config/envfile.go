package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EnvFilePath returns the .env path in the working directory.
func EnvFilePath() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	return filepath.Join(wd, ".env"), nil
}

// UpdateEnvFile rewrites the given keys in place and appends missing ones in
// key order. Comments, blank lines and unrelated keys are preserved.
func UpdateEnvFile(path string, updates map[string]string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !isNotExist(err) {
		return err
	}

	var lines []string
	seen := make(map[string]bool, len(updates))

	scanner := bufio.NewScanner(strings.NewReader(string(existing)))
	for scanner.Scan() {
		line := scanner.Text()
		prefix, key := parseEnvKey(line)
		value, ok := updates[key]
		if key == "" || !ok {
			lines = append(lines, line)
			continue
		}
		lines = append(lines, prefix+key+"="+formatEnvValue(value))
		seen[key] = true
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	keys := make([]string, 0, len(updates))
	for key := range updates {
		if !seen[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		lines = append(lines, key+"="+formatEnvValue(updates[key]))
	}

	output := strings.Join(lines, "\n")
	if output != "" && !strings.HasSuffix(output, "\n") {
		output += "\n"
	}

	return os.WriteFile(path, []byte(output), 0o600)
}

func parseEnvKey(line string) (string, string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", ""
	}

	prefix := ""
	if rest, ok := strings.CutPrefix(trimmed, "export "); ok {
		prefix = "export "
		trimmed = strings.TrimSpace(rest)
	}

	key, _, ok := strings.Cut(trimmed, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", ""
	}

	return prefix, key
}

func formatEnvValue(value string) string {
	if value == "" {
		return `""`
	}

	if !strings.ContainsAny(value, " \t#\"\\") {
		return value
	}

	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return fmt.Sprintf(`"%s"`, escaped)
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
