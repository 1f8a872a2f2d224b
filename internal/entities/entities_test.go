package entities

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDUnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected ID
		wantErr  bool
	}{
		{"string", `"c-1"`, "c-1", false},
		{"integer", `42`, "42", false},
		{"large integer", `9007199254740993`, "9007199254740993", false},
		{"decimal", `4.5`, "4.5", false},
		{"null", `null`, "", false},
		{"empty string", `""`, "", false},
		{"bool", `true`, "", true},
		{"object", `{"id":1}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var id ID
			err := json.Unmarshal([]byte(tt.input), &id)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, id)
		})
	}
}

func TestNumericIDsEncodeAsStrings(t *testing.T) {
	t.Parallel()

	var d Diagnosis
	require.NoError(t, json.Unmarshal([]byte(`{"diagnosis_id":3,"crop_id":"c-9","confidence":0.9}`), &d))
	assert.Equal(t, ID("3"), d.ID)
	assert.Equal(t, "c-9", d.CropID.String())

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"diagnosis_id":"3"`)
	assert.Contains(t, string(out), `"crop_id":"c-9"`)
}
