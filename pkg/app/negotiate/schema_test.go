package negotiate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pilot-dev/pilot/pkg/app/errors"
	"github.com/pilot-dev/pilot/pkg/app/state"
)

func sampleSchema() *state.ToolSchema {
	return &state.ToolSchema{
		Name:        "run_band_calculation",
		Description: "Run a band structure calculation",
		InputSchema: state.InputSchema{
			Properties: map[string]state.PropertySchema{
				"structure_file": {Type: "string", AgentInput: "POSCAR", Default: "structure.cif"},
				"kpoint_density": {Type: "number", Default: float64(40)},
				"notes":          {Type: "string"},
			},
		},
	}
}

func TestPrefillPrefersAgentInputOverDefault(t *testing.T) {
	out := Prefill(sampleSchema())

	assert.Equal(t, "POSCAR", out.InputSchema.Properties["structure_file"].UserInput)
	assert.Equal(t, float64(40), out.InputSchema.Properties["kpoint_density"].UserInput)
	assert.Nil(t, out.InputSchema.Properties["notes"].UserInput)
}

func TestPrefillKeepsExistingUserInput(t *testing.T) {
	schema := sampleSchema()
	prop := schema.InputSchema.Properties["structure_file"]
	prop.UserInput = "edited.vasp"
	schema.InputSchema.Properties["structure_file"] = prop

	out := Prefill(schema)

	assert.Equal(t, "edited.vasp", out.InputSchema.Properties["structure_file"].UserInput)
}

func TestPrefillDoesNotMutateInput(t *testing.T) {
	schema := sampleSchema()
	_ = Prefill(schema)

	assert.Nil(t, schema.InputSchema.Properties["structure_file"].UserInput)
}

func TestMergeUserInputsRetainsAgentProposal(t *testing.T) {
	merged, err := MergeUserInputs(sampleSchema(), map[string]any{"structure_file": "mine.cif"})
	require.NoError(t, err)

	prop := merged.InputSchema.Properties["structure_file"]
	assert.Equal(t, "mine.cif", prop.UserInput)
	assert.Equal(t, "POSCAR", prop.AgentInput)
	assert.Equal(t, "structure.cif", prop.Default)
}

func TestMergeUserInputsRejectsUnknownParameter(t *testing.T) {
	_, err := MergeUserInputs(sampleSchema(), map[string]any{"bogus": 1})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.Code(err))
}

func TestMergeUserInputsRejectsEmptyNegotiation(t *testing.T) {
	_, err := MergeUserInputs(nil, map[string]any{"structure_file": "x"})
	require.Error(t, err)
}

func TestParseEditsRejectsMalformedJSON(t *testing.T) {
	_, err := ParseEdits("not json")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.Code(err))
}

func TestParseEditsDecodesObject(t *testing.T) {
	edits, err := ParseEdits(`{"kpoint_density": 60, "structure_file": "a.cif"}`)

	require.NoError(t, err)
	assert.Equal(t, float64(60), edits["kpoint_density"])
	assert.Equal(t, "a.cif", edits["structure_file"])
}
