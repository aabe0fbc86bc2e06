package progress

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow/model"
)

func TestDecodeLedger_EmptyAndWhitespace(t *testing.T) {
	for _, doc := range [][]byte{nil, []byte(""), []byte("   \n\t")} {
		entries, ok := DecodeLedger(doc, zap.NewNop())
		assert.Nil(t, entries)
		assert.True(t, ok, "an absent document is not a decode failure")
	}
}

func TestDecodeLedger_PaddedEmptyArrayIsNotAFailure(t *testing.T) {
	entries, ok := DecodeLedger([]byte("  []  \n"), zap.NewNop())
	assert.Empty(t, entries)
	assert.True(t, ok)
}

func TestDecodeLedger_CaseInsensitiveFieldNames(t *testing.T) {
	// Documents written by older producers use PascalCase property names.
	doc := `[
		{"StageId":"s-1","StageOrder":1,"Status":"Completed","IsCompleted":true,"CompletedBy":"Alice"},
		{"stageId":"s-2","stageOrder":2,"status":"InProgress","isCurrent":true}
	]`

	entries, ok := DecodeLedger([]byte(doc), zap.NewNop())
	require.True(t, ok)
	require.Len(t, entries, 2)

	assert.Equal(t, "s-1", entries[0].StageID)
	assert.True(t, entries[0].IsCompleted)
	assert.Equal(t, "Alice", entries[0].CompletedBy)

	assert.Equal(t, "s-2", entries[1].StageID)
	assert.True(t, entries[1].IsCurrent)
	assert.Equal(t, model.StageStatusInProgress, entries[1].Status)
}

func TestDecodeLedger_MalformedDegradesToEmpty(t *testing.T) {
	for _, doc := range []string{
		`{"not":"a list"}`,
		`[{"stageId":"s-1"`,
		`garbage`,
	} {
		entries, ok := DecodeLedger([]byte(doc), zap.NewNop())
		assert.Nil(t, entries, "doc: %s", doc)
		assert.False(t, ok, "doc: %s", doc)
	}
}

func TestDecodeLedger_UnknownFieldsIgnored(t *testing.T) {
	doc := `[{"stageId":"s-1","stageOrder":1,"status":"Pending","legacyField":"x"}]`
	entries, ok := DecodeLedger([]byte(doc), zap.NewNop())
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, "s-1", entries[0].StageID)
}

func TestEncodeLedger_StripsConfigDerivedFields(t *testing.T) {
	entries := []model.StageProgress{{
		StageID:    "s-1",
		StageOrder: 1,
		Status:     model.StageStatusPending,
		// Enriched fields must never serialize.
		StageName:      "Collect Documents",
		Description:    "Collect onboarding documents",
		EstimatedDays:  3.5,
		ComponentsJSON: `[{"key":"fields"}]`,
	}}

	data, err := EncodeLedger(entries)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)

	assert.NotContains(t, decoded[0], "StageName")
	assert.NotContains(t, decoded[0], "stageName")
	assert.NotContains(t, decoded[0], "Description")
	assert.NotContains(t, decoded[0], "EstimatedDays")
	assert.NotContains(t, decoded[0], "ComponentsJSON")
}

func TestEncodeLedger_OmitsNilOptionals(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []model.StageProgress{
		{StageID: "s-1", StageOrder: 1, Status: model.StageStatusCompleted, IsCompleted: true, CompletionTime: &now},
		{StageID: "s-2", StageOrder: 2, Status: model.StageStatusPending},
	}

	data, err := EncodeLedger(entries)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Contains(t, decoded[0], "completionTime")
	assert.NotContains(t, decoded[1], "completionTime")
	assert.NotContains(t, decoded[1], "startTime")
	assert.NotContains(t, decoded[1], "completedBy")
}

func TestEncodeLedger_NilBecomesEmptyArray(t *testing.T) {
	data, err := EncodeLedger(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestEncodeDecode_RoundTripPreservesTimestamps(t *testing.T) {
	start := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	done := time.Date(2026, 2, 12, 16, 45, 0, 0, time.UTC)
	entries := []model.StageProgress{{
		StageID:        "s-1",
		StageOrder:     1,
		Status:         model.StageStatusCompleted,
		IsCompleted:    true,
		StartTime:      &start,
		CompletionTime: &done,
		CompletedBy:    "Alice",
		Notes:          "done early",
	}}

	data, err := EncodeLedger(entries)
	require.NoError(t, err)

	decoded, ok := DecodeLedger(data, zap.NewNop())
	require.True(t, ok)
	require.Len(t, decoded, 1)
	assert.True(t, start.Equal(*decoded[0].StartTime))
	assert.True(t, done.Equal(*decoded[0].CompletionTime))
	assert.Equal(t, "Alice", decoded[0].CompletedBy)
	assert.Equal(t, "done early", decoded[0].Notes)
}
