package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

type verdict struct {
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	Severity       int     `json:"severity"`
}

func TestParseDirect(t *testing.T) {
	var v verdict
	err := Parse(`{"classification":"FAILURE","confidence":0.92,"severity":8}`, &v)
	require.NoError(t, err)
	assert.Equal(t, "FAILURE", v.Classification)
	assert.Equal(t, 0.92, v.Confidence)
	assert.Equal(t, 8, v.Severity)
}

func TestParseCodeFences(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"json fence", "```json\n{\"classification\":\"FAILURE\",\"confidence\":0.9,\"severity\":8}\n```"},
		{"plain fence", "```\n{\"classification\":\"FAILURE\",\"confidence\":0.9,\"severity\":8}\n```"},
		{"fence with prose", "Here is my analysis:\n```json\n{\"classification\":\"FAILURE\",\"confidence\":0.9,\"severity\":8}\n```\nLet me know if you need more."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v verdict
			require.NoError(t, Parse(tt.text, &v))
			assert.Equal(t, "FAILURE", v.Classification)
		})
	}
}

func TestParseTrailingCommas(t *testing.T) {
	var v verdict
	err := Parse(`{"classification":"ANOMALY","confidence":0.6,"severity":4,}`, &v)
	require.NoError(t, err)
	assert.Equal(t, "ANOMALY", v.Classification)
}

func TestParseEmbeddedObject(t *testing.T) {
	var v verdict
	text := `Based on the event, my verdict is {"classification":"TAMPERING","confidence":0.85,"severity":9} as the actor was unexpected.`
	require.NoError(t, Parse(text, &v))
	assert.Equal(t, "TAMPERING", v.Classification)
	assert.Equal(t, 9, v.Severity)
}

func TestParseArray(t *testing.T) {
	var steps []map[string]string
	text := "```json\n[{\"action\":\"restart\"},{\"action\":\"verify\"}]\n```"
	require.NoError(t, Parse(text, &steps))
	require.Len(t, steps, 2)
	assert.Equal(t, "restart", steps[0]["action"])
}

func TestParseFailureWrapsSentinel(t *testing.T) {
	var v verdict
	for _, text := range []string{"", "   ", "I cannot classify this event.", "{broken"} {
		err := Parse(text, &v)
		require.Error(t, err, "Parse(%q) should fail", text)
		assert.ErrorIs(t, err, types.ErrLLMParse, "Parse(%q)", text)
	}
}
