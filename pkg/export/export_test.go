package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flagDataset() Dataset {
	return Dataset{
		Title:   "Flagged students",
		Headers: []string{"student_id", "issue_type", "flag_count"},
		Rows: []map[string]string{
			{"student_id": "s-1", "issue_type": "depression", "flag_count": "2"},
			{"student_id": "s-2", "issue_type": "bullying"},
		},
	}
}

func TestCSVRendererOrdersColumnsByHeader(t *testing.T) {
	out, err := NewCSVRenderer().Render(flagDataset())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "student_id,issue_type,flag_count", lines[0])
	assert.Equal(t, "s-1,depression,2", lines[1])
	assert.Equal(t, "s-2,bullying,", lines[2])
}

func TestRenderersRequireHeaders(t *testing.T) {
	_, err := NewCSVRenderer().Render(Dataset{})
	assert.Error(t, err)
	_, err = NewPDFRenderer().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFRendererProducesDocument(t *testing.T) {
	out, err := NewPDFRenderer().Render(flagDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestTruncateCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "a b", truncate("a \n  b"))
	long := strings.Repeat("x", 60)
	assert.Len(t, []rune(truncate(long)), maxCellRune)
}
