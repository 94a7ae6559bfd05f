package handler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

func TestRegistryCoversEveryOperation(t *testing.T) {
	r := NewRegistry(Deps{})
	for _, op := range domain.Operations() {
		assert.Contains(t, r.table, op, "operation %s has no handler", op)
	}
	assert.Contains(t, r.table, domain.OpDocumentIngestion)
}

func TestRegistryShapesCompletion(t *testing.T) {
	analyzer := &fakeAnalyzer{semantic: domain.AnalysisObject{Confidence: 0.8, Summary: "ok"}}
	r := NewRegistry(Deps{Analyzer: analyzer})

	completion, err := r.Execute(context.Background(), &domain.QualityAssessmentRequest{
		Op:         domain.OpQualityAssessment,
		SourcePath: "pkg/a.go",
		Content:    "package a\n",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OpQualityAssessment, completion.Operation)
	assert.Equal(t, domain.StatusSuccess, completion.Status)
	assert.False(t, completion.PartialResults)
	assert.NotNil(t, completion.Result)
	assert.GreaterOrEqual(t, completion.DurationMS, int64(0))
}

func TestRegistryMarksPartialOnDegradedSteps(t *testing.T) {
	// ONEX without a pattern store degrades its lookup step.
	r := NewRegistry(Deps{})
	completion, err := r.Execute(context.Background(), &domain.OnexComplianceRequest{
		Op:         domain.OpOnexCompliance,
		SourcePath: "node_thing.py",
		Content:    "# onex:name thing\n# onex:version 1.0.0\n# onex:owner core\n",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, completion.Status)
	assert.True(t, completion.PartialResults)
	assert.Equal(t, []string{"pattern_lookup"}, completion.Degraded)
}

func TestRegistryPropagatesHandlerError(t *testing.T) {
	analyzer := &fakeAnalyzer{semanticErr: fmt.Errorf("%w: analyzer 503", domain.ErrExternalService)}
	r := NewRegistry(Deps{Analyzer: analyzer})

	_, err := r.Execute(context.Background(), &domain.QualityAssessmentRequest{
		Op:         domain.OpQualityAssessment,
		SourcePath: "pkg/a.go",
		Content:    "package a\n",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExternalService)
}
