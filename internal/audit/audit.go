// Package audit inspects a vault for security problems: duplicate
// recipient keys, bus-factor risks, stale encryption, plaintext
// leakage. Checks are advisory and independent; one failing to run
// never stops the others, it reports itself as a finding instead.
package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/teamvault/teamvault/internal/vault"
)

// Severity ranks findings. Ordering is total: Info < Warning < Critical.
type Severity int

const (
	Info Severity = iota
	Warning
	Critical
)

// String returns the uppercase severity label.
func (s Severity) String() string {
	switch s {
	case Critical:
		return "CRITICAL"
	case Warning:
		return "WARNING"
	}
	return "INFO"
}

// Finding is one problem discovered by a check.
type Finding struct {
	Description string
	Severity    Severity
	Location    string
}

// Input is what checks inspect: the loaded config and the path of the
// vault file on disk. History may be nil when no repository context is
// available.
type Input struct {
	Config  *vault.Config
	Path    string
	History History
}

// Check is a single audit rule.
type Check interface {
	Name() string
	Run(ctx context.Context, in *Input) []Finding
}

// Report is the aggregated result of an audit run, findings sorted by
// severity descending then description.
type Report struct {
	Findings []Finding
}

// MaxSeverity returns the highest severity present, or Info for a
// clean report.
func (r Report) MaxSeverity() Severity {
	max := Info
	for _, f := range r.Findings {
		if f.Severity > max {
			max = f.Severity
		}
	}
	return max
}

// Clean reports whether no findings were raised.
func (r Report) Clean() bool {
	return len(r.Findings) == 0
}

// Engine runs a fixed set of checks over a vault.
type Engine struct {
	checks []Check
}

// NewEngine builds an engine with the built-in checks.
func NewEngine() *Engine {
	return &Engine{checks: []Check{
		duplicateKeyCheck{},
		singleRecipientCheck{},
		staleFingerprintCheck{},
		plaintextValueCheck{},
		historyCheck{},
	}}
}

// AddCheck appends a custom check.
func (e *Engine) AddCheck(c Check) {
	e.checks = append(e.checks, c)
}

// Run executes every check and aggregates the findings.
func (e *Engine) Run(ctx context.Context, in *Input) Report {
	var findings []Finding
	for _, c := range e.checks {
		findings = append(findings, c.Run(ctx, in)...)
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return findings[i].Severity > findings[j].Severity
		}
		return findings[i].Description < findings[j].Description
	})

	return Report{Findings: findings}
}

// duplicateKeyCheck flags a public key registered under more than one
// recipient name. Usually a copy-paste slip that silently grants one
// person two seats.
type duplicateKeyCheck struct{}

func (duplicateKeyCheck) Name() string { return "duplicate-recipient-key" }

func (duplicateKeyCheck) Run(ctx context.Context, in *Input) []Finding {
	byKey := make(map[string][]string)
	for name, key := range in.Config.Recipients {
		byKey[key] = append(byKey[key], name)
	}

	var findings []Finding
	for _, names := range byKey {
		if len(names) < 2 {
			continue
		}
		sort.Strings(names)
		findings = append(findings, Finding{
			Description: fmt.Sprintf("recipients %s share the same public key", strings.Join(names, ", ")),
			Severity:    Warning,
			Location:    in.Path,
		})
	}
	return findings
}

// singleRecipientCheck flags a vault only one person can open.
type singleRecipientCheck struct{}

func (singleRecipientCheck) Name() string { return "single-recipient" }

func (singleRecipientCheck) Run(ctx context.Context, in *Input) []Finding {
	if len(in.Config.Recipients) != 1 {
		return nil
	}
	var name string
	for n := range in.Config.Recipients {
		name = n
	}
	return []Finding{{
		Description: fmt.Sprintf("only recipient is %s, losing that key loses the vault", name),
		Severity:    Warning,
		Location:    in.Path,
	}}
}

// staleFingerprintCheck flags secrets still encrypted for a previous
// recipient set. Removed members keep access and added members have
// none until a sync runs.
type staleFingerprintCheck struct{}

func (staleFingerprintCheck) Name() string { return "stale-fingerprint" }

func (staleFingerprintCheck) Run(ctx context.Context, in *Input) []Finding {
	if !in.Config.Stale() {
		return nil
	}
	return []Finding{{
		Description: "secrets are encrypted for an outdated recipient set, run sync",
		Severity:    Critical,
		Location:    in.Path,
	}}
}

// plaintextValueCheck flags secret values stored without a ciphertext
// tag, i.e. committed in plaintext.
type plaintextValueCheck struct{}

func (plaintextValueCheck) Name() string { return "plaintext-value" }

func (plaintextValueCheck) Run(ctx context.Context, in *Input) []Finding {
	var findings []Finding
	for _, key := range in.Config.SecretKeys() {
		if isTaggedCiphertext(in.Config.Secrets[key]) {
			continue
		}
		findings = append(findings, Finding{
			Description: fmt.Sprintf("secret %s is stored in plaintext", key),
			Severity:    Critical,
			Location:    in.Path,
		})
	}
	return findings
}

func isTaggedCiphertext(value string) bool {
	parts := strings.SplitN(value, ":", 3)
	return len(parts) == 3 && parts[0] == "v1" && parts[1] != "" && parts[2] != ""
}
