package config

import (
	"fmt"
	"strings"
)

// Field enumerates the statically known configuration fields. Dynamic
// per-provider fields carry their provider through FieldPath.
type Field int

const (
	FieldUnknown Field = iota
	FieldGeneralWorkspace
	FieldGeneralDefaultModel
	FieldGeneralLogLevel
	FieldQualityGatesSchemaValidation
	FieldQualityGatesMinGrade
	FieldEvidenceBase
	FieldEvidenceArchiveAfterDays
	FieldEvidencePurgeAfterDays
	FieldEvidenceWarningMB
	FieldEvidenceHardMB
	FieldEvidenceEnabled
	FieldEvidenceDryRun
	FieldBudgetDefaultBudget
	FieldPTYBinary
	FieldPTYInitTimeoutSecs
	FieldPTYTurnTimeoutSecs
	FieldUndoEnabled
	FieldProviderOAuthClientID
	FieldProviderBaseURL
	FieldProviderDefaultModel
	FieldProviderReasoning
)

// FieldPath is a strongly-typed address of one config value. Provider is
// set only for the dynamic per-provider fields.
type FieldPath struct {
	Field    Field
	Provider string
}

type fieldSpec struct {
	field   Field
	key     string // TOML dotted key; %s is the provider slot
	dynamic bool
}

var fieldSpecs = []fieldSpec{
	{FieldGeneralWorkspace, "general.workspace", false},
	{FieldGeneralDefaultModel, "general.default_model", false},
	{FieldGeneralLogLevel, "general.log_level", false},
	{FieldQualityGatesSchemaValidation, "quality_gates.schema_validation", false},
	{FieldQualityGatesMinGrade, "quality_gates.min_grade", false},
	{FieldEvidenceBase, "evidence.base", false},
	{FieldEvidenceArchiveAfterDays, "evidence.archive_after_days", false},
	{FieldEvidencePurgeAfterDays, "evidence.purge_after_days", false},
	{FieldEvidenceWarningMB, "evidence.warning_mb", false},
	{FieldEvidenceHardMB, "evidence.hard_mb", false},
	{FieldEvidenceEnabled, "evidence.enabled", false},
	{FieldEvidenceDryRun, "evidence.dry_run", false},
	{FieldBudgetDefaultBudget, "budget.default_budget", false},
	{FieldPTYBinary, "pty.binary", false},
	{FieldPTYInitTimeoutSecs, "pty.init_timeout_secs", false},
	{FieldPTYTurnTimeoutSecs, "pty.turn_timeout_secs", false},
	{FieldUndoEnabled, "undo.enabled", false},
	{FieldProviderOAuthClientID, "models.%s.oauth_client_id", true},
	{FieldProviderBaseURL, "models.%s.base_url", true},
	{FieldProviderDefaultModel, "models.%s.default_model", true},
	{FieldProviderReasoning, "models.%s.reasoning", true},
}

func specFor(f Field) (fieldSpec, bool) {
	for _, s := range fieldSpecs {
		if s.field == f {
			return s, true
		}
	}
	return fieldSpec{}, false
}

// TOMLKey returns the dotted key for the path, e.g.
// "models.anthropic.oauth_client_id".
func (p FieldPath) TOMLKey() (string, error) {
	s, ok := specFor(p.Field)
	if !ok {
		return "", fmt.Errorf("unknown config field %d", p.Field)
	}
	if s.dynamic {
		if p.Provider == "" {
			return "", fmt.Errorf("field %q requires a provider", s.key)
		}
		return fmt.Sprintf(s.key, strings.ToLower(p.Provider)), nil
	}
	return s.key, nil
}

// EnvVar returns the environment spelling: SPECKIT_ prefix, segments
// upper-cased and joined with double underscores.
func (p FieldPath) EnvVar() (string, error) {
	key, err := p.TOMLKey()
	if err != nil {
		return "", err
	}
	return envPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "__")), nil
}

// FieldFromKey resolves a TOML dotted key back to a FieldPath. Dynamic
// keys bind their middle segment as the provider.
func FieldFromKey(key string) (FieldPath, bool) {
	for _, s := range fieldSpecs {
		if !s.dynamic {
			if s.key == key {
				return FieldPath{Field: s.field}, true
			}
			continue
		}
		parts := strings.SplitN(s.key, "%s", 2)
		if strings.HasPrefix(key, parts[0]) && strings.HasSuffix(key, parts[1]) {
			provider := strings.TrimSuffix(strings.TrimPrefix(key, parts[0]), parts[1])
			if provider != "" && !strings.Contains(provider, ".") {
				return FieldPath{Field: s.field, Provider: provider}, true
			}
		}
	}
	return FieldPath{}, false
}

// FieldFromEnv resolves a SPECKIT_ environment variable name to a
// FieldPath.
func FieldFromEnv(name string) (FieldPath, bool) {
	if !strings.HasPrefix(name, envPrefix) {
		return FieldPath{}, false
	}
	return FieldFromKey(envTransform(name))
}
