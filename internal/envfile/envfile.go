// Package envfile reads and writes dotenv-format files. Parsing is
// implemented here rather than delegated because importing a team's
// existing .env must preserve declaration order for review output and
// reject duplicate keys instead of silently keeping the last one;
// serialization delegates to godotenv for conventional quoting.
package envfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"

	tverrors "github.com/teamvault/teamvault/internal/errors"
)

// Entry is one KEY=VALUE pair in file order.
type Entry struct {
	Key   string
	Value string
}

// Parse reads dotenv syntax: blank lines and # comments are skipped,
// an optional "export " prefix is accepted, values may be bare,
// single-quoted (literal), or double-quoted (with \n, \t, \", \\
// escapes). Duplicate keys are an error.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	seen := make(map[string]int)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, rawValue, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("line %d: no '=' separator: %w", lineNo, tverrors.ErrMalformedInput)
		}
		key = strings.TrimSpace(key)
		if !isValidKey(key) {
			return nil, fmt.Errorf("line %d: invalid key %q: %w", lineNo, key, tverrors.ErrMalformedInput)
		}
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("line %d: key %s already defined on line %d: %w", lineNo, key, prev, tverrors.ErrMalformedInput)
		}
		seen[key] = lineNo

		value, err := parseValue(strings.TrimSpace(rawValue))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		entries = append(entries, Entry{Key: key, Value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	return entries, nil
}

// Load parses the file at path.
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// ToMap flattens entries for diffing and storage.
func ToMap(entries []Entry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out
}

// Marshal renders a key/value map as dotenv text, keys sorted.
func Marshal(values map[string]string) (string, error) {
	out, err := godotenv.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to serialize env: %w", err)
	}
	return out + "\n", nil
}

// WriteFile renders values to path with owner-only permissions.
func WriteFile(path string, values map[string]string) error {
	content, err := Marshal(values)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func isValidKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func parseValue(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}

	switch raw[0] {
	case '\'':
		if len(raw) < 2 || raw[len(raw)-1] != '\'' {
			return "", fmt.Errorf("unterminated single-quoted value: %w", tverrors.ErrMalformedInput)
		}
		return raw[1 : len(raw)-1], nil

	case '"':
		if len(raw) < 2 || raw[len(raw)-1] != '"' {
			return "", fmt.Errorf("unterminated double-quoted value: %w", tverrors.ErrMalformedInput)
		}
		return unescape(raw[1 : len(raw)-1])
	}

	// Bare values run to an unquoted # or end of line.
	if idx := strings.Index(raw, " #"); idx >= 0 {
		raw = strings.TrimSpace(raw[:idx])
	}
	return raw, nil
}

func unescape(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("trailing backslash in value: %w", tverrors.ErrMalformedInput)
		}
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		case '$', '`', '!':
			// godotenv escapes shell-active characters on output
			b.WriteByte(s[i])
		default:
			return "", fmt.Errorf("unsupported escape \\%c: %w", s[i], tverrors.ErrMalformedInput)
		}
	}
	return b.String(), nil
}
