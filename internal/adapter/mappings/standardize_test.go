package mappings

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardize(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"complaint_mapping.json":  `{"noise   complaint": "noise", "NOISE COMPLAINT": "loud", "blocked driveway ": "BLOCKED DRIVEWAY"}`,
		"relevant_complaints.yml": "- illegal parking\n- Illegal  Parking\n- noise\n",
		"notes.txt":               "left alone",
	})

	rewritten, err := Standardize(fs, "mappings")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"complaint_mapping.json", "relevant_complaints.yml"}, rewritten)

	set, err := Load(fs, "mappings")
	require.NoError(t, err)

	m := set.Mapping("complaint_mapping")
	assert.Equal(t, 2, m.Len())
	canon, ok := m.Lookup("Noise Complaint")
	require.True(t, ok)
	assert.Equal(t, "Loud", canon, "NOISE COMPLAINT sorts before noise   complaint")
	canon, ok = m.Lookup("Blocked Driveway")
	require.True(t, ok)
	assert.Equal(t, "Blocked Driveway", canon)

	allow, ok := set.AllowList("relevant_complaints")
	require.True(t, ok)
	assert.Len(t, allow, 2)
	assert.Contains(t, allow, "Illegal Parking")
	assert.Contains(t, allow, "Noise")

	notes, err := afero.ReadFile(fs, "mappings/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "left alone", string(notes))
}

func TestStandardize_Malformed(t *testing.T) {
	_, err := Standardize(writeFiles(t, map[string]string{"a.json": `{"a": `}), "mappings")
	require.Error(t, err)
}
