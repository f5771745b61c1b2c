// ABOUTME: Tests for the legacy TSV reader and writer
// ABOUTME: Covers escaping, warnings, ordering and write/parse symmetry

package legacy

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`plain`, "plain"},
		{`line\nbreak`, "line\nbreak"},
		{`tab\there`, "tab\there"},
		{`cr\r`, "cr\r"},
		{`back\\slash`, `back\slash`},
		{`unknown\q`, `unknown\q`},
		{`trailing\`, `trailing\`},
		{`ünïcode\n✓`, "ünïcode\n✓"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DecodeTitle(tt.in), "DecodeTitle(%q)", tt.in)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, title := range []string{"", "simple", "a\tb\nc\rd\\e", `\n literal`, "emoji 🎉"} {
		encoded := EncodeTitle(title)
		assert.NotContains(t, encoded, "\t")
		assert.NotContains(t, encoded, "\n")
		assert.Equal(t, title, DecodeTitle(encoded))
	}
}

func TestParse_WarningsAndBlankLines(t *testing.T) {
	input := strings.Join([]string{
		"1\t100\tfirst",
		"",
		"   ",
		"no-tabs",
		"2\t200",
		"x\t300\tbad id",
		"3\tlater\tbad time",
		"4\t-5\tnegative",
		"5\t99999999999999999999\ttoo big",
		"6\t150\t\\t  ",
	}, "\n")

	rows, warnings, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []Warning{
		{Line: 4, Reason: ReasonMissingUpdatedAt},
		{Line: 5, Reason: ReasonMissingTitle},
		{Line: 6, Reason: ReasonInvalidID},
		{Line: 7, Reason: ReasonInvalidUpdatedAt},
		{Line: 8, Reason: ReasonInvalidUpdatedAt},
		{Line: 9, Reason: ReasonInvalidUpdatedAt},
	}, warnings)

	require.Len(t, rows, 2)
	assert.Equal(t, Row{ID: 6, UpdatedAt: 150, Title: DefaultTitle}, rows[0])
	assert.Equal(t, Row{ID: 1, UpdatedAt: 100, Title: "first"}, rows[1])
}

func TestParse_TitleKeepsExtraTabs(t *testing.T) {
	rows, warnings, err := Parse(strings.NewReader("7\t10\ta\tb\r\n"))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, rows, 1)
	assert.Equal(t, "a\tb", rows[0].Title)
}

func TestSortRows_NewestThenHighestID(t *testing.T) {
	rows := []Row{
		{ID: 1, UpdatedAt: 10},
		{ID: 5, UpdatedAt: 20},
		{ID: 9, UpdatedAt: 10},
		{ID: 2, UpdatedAt: 20},
	}
	SortRows(rows)

	var ids []uint64
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []uint64{5, 2, 9, 1}, ids)
}

func TestWriteThenParse(t *testing.T) {
	rows := []Row{
		{ID: 2, UpdatedAt: 200, Title: "multi\nline"},
		{ID: 1, UpdatedAt: 100, Title: `C:\path`},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, rows))
	assert.Equal(t, "2\t200\tmulti\\nline\n1\t100\tC:\\\\path\n", buf.String())

	parsed, warnings, err := Parse(&buf)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, rows, parsed)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }

func TestParse_ReadError(t *testing.T) {
	_, _, err := Parse(failingReader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device gone")
}
