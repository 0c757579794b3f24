package audit

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// History supplies past committed versions of the vault file.
type History interface {
	// Revisions returns the file's content at each commit that touched
	// it, newest first.
	Revisions(ctx context.Context, path string) ([]string, error)
}

// GitHistory reads revisions through the git CLI.
type GitHistory struct {
	runner func(ctx context.Context, dir string, args ...string) (string, error)
}

// NewGitHistory creates a history reader backed by the git binary.
func NewGitHistory() *GitHistory {
	return &GitHistory{runner: runGit}
}

// NewGitHistoryWithRunner injects a command runner, for tests.
func NewGitHistoryWithRunner(runner func(ctx context.Context, dir string, args ...string) (string, error)) *GitHistory {
	return &GitHistory{runner: runner}
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	return string(out), err
}

// Revisions lists every committed version of path.
func (g *GitHistory) Revisions(ctx context.Context, path string) ([]string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	out, err := g.runner(ctx, dir, "log", "--follow", "--format=%H", "--", base)
	if err != nil {
		return nil, fmt.Errorf("failed to read git log for %s: %w", path, err)
	}

	var revisions []string
	for _, hash := range strings.Fields(out) {
		content, err := g.runner(ctx, dir, "show", hash+":"+base)
		if err != nil {
			// File may not exist at this commit (renames, deletions).
			continue
		}
		revisions = append(revisions, content)
	}
	return revisions, nil
}

// historyCheck scans committed versions of the vault file for
// plaintext secret values. A value that ever hit the repository
// unencrypted is compromised regardless of its current state. When no
// history is available the check degrades to an Info finding rather
// than failing the audit.
type historyCheck struct{}

func (historyCheck) Name() string { return "plaintext-in-history" }

func (historyCheck) Run(ctx context.Context, in *Input) []Finding {
	if in.History == nil {
		return nil
	}

	revisions, err := in.History.Revisions(ctx, in.Path)
	if err != nil {
		return []Finding{{
			Description: "unable to scan repository history for plaintext secrets",
			Severity:    Info,
			Location:    in.Path,
		}}
	}

	var findings []Finding
	seen := make(map[string]bool)
	for _, content := range revisions {
		for _, key := range plaintextSecretsIn(content) {
			if seen[key] {
				continue
			}
			seen[key] = true
			findings = append(findings, Finding{
				Description: fmt.Sprintf("secret %s appears in plaintext in repository history, rotate it", key),
				Severity:    Critical,
				Location:    in.Path,
			})
		}
	}
	return findings
}

// plaintextSecretsIn extracts secret keys whose values are untagged in
// a historical vault file. Parsing is line-oriented on purpose: old
// revisions may predate the current schema and must not abort the scan.
func plaintextSecretsIn(content string) []string {
	var keys []string
	inSecrets := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "secrets:" {
			inSecrets = true
			continue
		}
		if inSecrets {
			if !strings.HasPrefix(trimmed, "  ") || !strings.Contains(trimmed, ":") {
				inSecrets = false
				continue
			}
			key, value, _ := strings.Cut(strings.TrimSpace(trimmed), ":")
			value = strings.Trim(strings.TrimSpace(value), `"'`)
			if value != "" && !isTaggedCiphertext(value) {
				keys = append(keys, key)
			}
		}
	}
	return keys
}
