// Package rules manages administrator-defined validation rules:
// FHIRPath expressions with a severity, versioned with semantic
// versions and an append-only change history.
//
// These rules are an administrative feature. The built-in businessRule
// aspect does not evaluate them; Evaluate is offered for ad-hoc runs
// and future pipeline wiring.
package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gofhir/fhirpath"
	"github.com/gofhir/fhirpath/types"
	"github.com/google/uuid"

	fq "github.com/gofhir/quality"
)

// InitialVersion is the version a new rule starts at.
const InitialVersion = "1.0.0"

// Rule is one administrator-defined validation rule.
type Rule struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	ResourceType string      `json:"resourceType"`
	Expression   string      `json:"expression"`
	Severity     fq.Severity `json:"severity"`
	Version      string      `json:"version"`
	Enabled      bool        `json:"enabled"`
	Deleted      bool        `json:"deleted"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// VersionRecord is one entry in a rule's append-only change history.
type VersionRecord struct {
	RuleID     string      `json:"ruleId"`
	Version    string      `json:"version"`
	Expression string      `json:"expression"`
	Severity   fq.Severity `json:"severity"`
	ChangedAt  time.Time   `json:"changedAt"`
}

// Store persists rules and their version history. Implementations live
// in the storage package. History is append-only.
type Store interface {
	GetRule(ctx context.Context, id string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)
	SaveRule(ctx context.Context, rule *Rule) error
	AppendVersion(ctx context.Context, record VersionRecord) error
	VersionHistory(ctx context.Context, ruleID string) ([]VersionRecord, error)
}

// ErrRuleDeleted is returned for operations on a soft-deleted rule.
var ErrRuleDeleted = errors.New("rule is deleted")

// Service provides rule CRUD with compile checks and version bumps.
type Service struct {
	store Store
}

// NewService creates a rule service over the store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create validates and stores a new rule at version 1.0.0, recording
// the initial version in the history.
func (s *Service) Create(ctx context.Context, rule *Rule) error {
	if rule.Name == "" {
		return errors.New("rule name is required")
	}
	if _, err := fhirpath.Compile(rule.Expression); err != nil {
		return fmt.Errorf("invalid rule expression: %w", err)
	}
	if rule.Severity == "" {
		rule.Severity = fq.SeverityWarning
	}

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.Version = InitialVersion
	rule.Deleted = false
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := s.store.SaveRule(ctx, rule); err != nil {
		return err
	}
	return s.store.AppendVersion(ctx, VersionRecord{
		RuleID:     rule.ID,
		Version:    rule.Version,
		Expression: rule.Expression,
		Severity:   rule.Severity,
		ChangedAt:  now,
	})
}

// Get returns a rule by id. Soft-deleted rules are not returned.
func (s *Service) Get(ctx context.Context, id string) (*Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.Deleted {
		return nil, ErrRuleDeleted
	}
	return rule, nil
}

// List returns all rules that are not soft-deleted.
func (s *Service) List(ctx context.Context) ([]*Rule, error) {
	all, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	live := all[:0]
	for _, rule := range all {
		if !rule.Deleted {
			live = append(live, rule)
		}
	}
	return live, nil
}

// Update merges changes into a rule. A changed expression gets a minor
// version bump and a new history entry; other edits keep the version.
func (s *Service) Update(ctx context.Context, rule *Rule) error {
	existing, err := s.store.GetRule(ctx, rule.ID)
	if err != nil {
		return err
	}
	if existing.Deleted {
		return ErrRuleDeleted
	}

	expressionChanged := rule.Expression != existing.Expression
	if expressionChanged {
		if _, err := fhirpath.Compile(rule.Expression); err != nil {
			return fmt.Errorf("invalid rule expression: %w", err)
		}
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	rule.Version = existing.Version
	rule.Deleted = false

	if expressionChanged {
		bumped, err := bumpMinor(existing.Version)
		if err != nil {
			return err
		}
		rule.Version = bumped
	}

	if err := s.store.SaveRule(ctx, rule); err != nil {
		return err
	}
	if expressionChanged {
		return s.store.AppendVersion(ctx, VersionRecord{
			RuleID:     rule.ID,
			Version:    rule.Version,
			Expression: rule.Expression,
			Severity:   rule.Severity,
			ChangedAt:  rule.UpdatedAt,
		})
	}
	return nil
}

// Delete soft-deletes a rule. History is retained.
func (s *Service) Delete(ctx context.Context, id string) error {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return err
	}
	rule.Deleted = true
	rule.Enabled = false
	rule.UpdatedAt = time.Now().UTC()
	return s.store.SaveRule(ctx, rule)
}

// History returns the rule's version records, oldest first.
func (s *Service) History(ctx context.Context, ruleID string) ([]VersionRecord, error) {
	return s.store.VersionHistory(ctx, ruleID)
}

// Rollback restores the expression from a historic version. The rule
// gets a fresh minor bump and the rollback is itself appended to the
// history, keeping the log strictly append-only.
func (s *Service) Rollback(ctx context.Context, ruleID, version string) error {
	history, err := s.store.VersionHistory(ctx, ruleID)
	if err != nil {
		return err
	}

	var target *VersionRecord
	for i := range history {
		if history[i].Version == version {
			target = &history[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("rule %s has no version %s", ruleID, version)
	}

	rule, err := s.Get(ctx, ruleID)
	if err != nil {
		return err
	}
	rule.Expression = target.Expression
	rule.Severity = target.Severity
	return s.Update(ctx, rule)
}

// EvaluateAll runs every enabled rule that applies to the resource
// type and collects the violations. Rules with an empty ResourceType
// apply to all types. A failing rule (bad expression, evaluation
// error) is skipped; the joined errors are returned alongside the
// issues so callers can log them without losing the good rules.
func (s *Service) EvaluateAll(ctx context.Context, resourceType string, resource map[string]any) ([]fq.Issue, error) {
	all, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}

	var issues []fq.Issue
	var errs []error
	for _, rule := range all {
		if rule.Deleted || !rule.Enabled {
			continue
		}
		if rule.ResourceType != "" && rule.ResourceType != resourceType {
			continue
		}
		issue, err := s.Evaluate(ctx, rule, resource)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues, errors.Join(errs...)
}

// Evaluate runs an enabled rule against a resource and returns an
// issue when the expression is not satisfied.
func (s *Service) Evaluate(ctx context.Context, rule *Rule, resource map[string]any) (*fq.Issue, error) {
	if !rule.Enabled || rule.Deleted {
		return nil, nil
	}

	compiled, err := fhirpath.Compile(rule.Expression)
	if err != nil {
		return nil, fmt.Errorf("compiling rule %s: %w", rule.ID, err)
	}

	payload, err := json.Marshal(resource)
	if err != nil {
		return nil, err
	}
	result, err := compiled.Evaluate(payload)
	if err != nil {
		return nil, fmt.Errorf("evaluating rule %s: %w", rule.ID, err)
	}

	if collectionTruthy(result) {
		return nil, nil
	}

	issue := fq.NewIssue(rule.Severity, fq.AspectBusinessRule, "custom-rule-violation").
		Message(fmt.Sprintf("rule %q (v%s) not satisfied", rule.Name, rule.Version)).
		Expression(rule.Expression).
		Build()
	return &issue, nil
}

// collectionTruthy applies FHIRPath truthiness: empty is false, a
// single boolean is itself, any other non-empty collection is true.
func collectionTruthy(result types.Collection) bool {
	if len(result) == 0 {
		return false
	}
	if len(result) == 1 {
		if b, ok := result[0].(types.Boolean); ok {
			return b.Bool()
		}
	}
	return true
}

func bumpMinor(version string) (string, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return "", fmt.Errorf("parsing version %q: %w", version, err)
	}
	next := v.IncMinor()
	return next.String(), nil
}
