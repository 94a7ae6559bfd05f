package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

func onexRuleIDs(violations []onexViolation) []string {
	ids := make([]string, 0, len(violations))
	for _, v := range violations {
		ids = append(ids, v.RuleID)
	}
	return ids
}

func TestOnexRulesCompliantDocument(t *testing.T) {
	violations := evaluateOnexRules(&domain.OnexComplianceRequest{
		SourcePath: "nodes/text_cleaner.py",
		Content:    "# onex:name text_cleaner\n# onex:version 1.2.0\n# onex:owner platform\n",
	})
	assert.Empty(t, violations)
}

func TestOnexRulesViolations(t *testing.T) {
	violations := evaluateOnexRules(&domain.OnexComplianceRequest{
		SourcePath: "nodes/TextCleaner.py",
		Content:    "# onex:version not-a-version\n",
	})
	ids := onexRuleIDs(violations)
	assert.Contains(t, ids, ruleFileNaming)
	assert.Contains(t, ids, ruleMetadataName)
	assert.Contains(t, ids, ruleMetadataVersion)
	assert.Contains(t, ids, ruleMetadataOwner)
}

func TestOnexRequestMetadataWinsOverContent(t *testing.T) {
	violations := evaluateOnexRules(&domain.OnexComplianceRequest{
		SourcePath: "nodes/text_cleaner.py",
		Content:    "# onex:version not-a-version\n",
		Metadata:   map[string]string{"name": "cleaner", "version": "2.0.0", "owner": "core"},
	})
	assert.Empty(t, violations)
}

func TestOnexComplianceUsesPatternStore(t *testing.T) {
	patterns := &fakePatterns{patterns: []domain.Pattern{{ID: "pat-1", Name: "naming", Kind: "compliance"}}}
	h := &handlers{Deps: Deps{Patterns: patterns, StoreTimeout: testStoreTimeout}}

	result, degraded, err := h.onexCompliance(context.Background(), &domain.OnexComplianceRequest{
		Op:         domain.OpOnexCompliance,
		SourcePath: "nodes/text_cleaner.py",
		Content:    "# onex:name x\n# onex:version 1.0\n# onex:owner y\n",
		RuleSet:    "strict",
	})
	require.NoError(t, err)
	assert.Empty(t, degraded)
	assert.Equal(t, true, result["compliant"])

	require.Len(t, patterns.filters, 1)
	assert.Equal(t, "compliance", patterns.filters[0].Kind)
	assert.Equal(t, "strict", patterns.filters[0].Domain)
}

func TestOnexComplianceDegradesOnLookupFailure(t *testing.T) {
	patterns := &fakePatterns{err: domain.ErrExternalService}
	h := &handlers{Deps: Deps{Patterns: patterns, StoreTimeout: testStoreTimeout}}

	result, degraded, err := h.onexCompliance(context.Background(), &domain.OnexComplianceRequest{
		Op:         domain.OpOnexCompliance,
		SourcePath: "nodes/text_cleaner.py",
		Content:    "# onex:name x\n# onex:version 1.0\n# onex:owner y\n",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pattern_lookup"}, degraded)
	assert.Equal(t, true, result["compliant"])
}
