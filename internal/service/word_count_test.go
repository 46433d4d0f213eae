package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
)

func TestCountRawWords(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int
	}{
		{name: "runs concatenated in order", raw: `[{"insert":"Hello world"},{"insert":"  foo"}]`, want: 3},
		{name: "plain text", raw: "I walked to school\n and it rained", want: 7},
		{name: "json string", raw: `"two words"`, want: 2},
		{name: "delta document", raw: `{"ops":[{"insert":"one "},{"insert":"two","attributes":{"bold":true}}]}`, want: 2},
		{name: "embed contributes nothing", raw: `[{"insert":"see"},{"insert":{"image":"cat.png"}},{"insert":" this"}]`, want: 2},
		{name: "fragments join without separator", raw: `[{"insert":"foo"},{"insert":"bar"}]`, want: 1},
		{name: "empty", raw: "   ", want: 0},
		{name: "empty runs", raw: `[]`, want: 0},
		{name: "plain text opening with a bracket", raw: "[Monday] I feel hopeless and worthless today", want: 7},
		{name: "plain text opening with a brace", raw: "{draft} four words here", want: 4},
		{name: "plain text opening with a quote", raw: `"Hi" she said`, want: 3},
		{name: "truncated run array is plain text", raw: `[{"insert":`, want: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CountRawWords(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCountRawWordsMalformed(t *testing.T) {
	for _, raw := range []string{`{"ops": 3}`, `{"title":"no ops"}`, `[1, 2]`, `{"ops":"hopeless"}`} {
		got, err := CountRawWords(raw)
		assert.Equal(t, 0, got, raw)
		assert.True(t, errors.Is(err, appErrors.ErrMalformedEntry), raw)
	}
}

func TestCountWordsDeterministic(t *testing.T) {
	raw := `[{"insert":"a b"},{"insert":" c\td\n"},{"insert":"e"}]`
	first, err := CountRawWords(raw)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := CountRawWords(raw)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, 5, first)
}

func TestParseTextBodyKeepsBracketedPlainText(t *testing.T) {
	raw := "[Monday] I feel hopeless and worthless today"
	body, err := ParseTextBody(raw)
	require.NoError(t, err)
	assert.Empty(t, body.Runs)
	assert.Equal(t, raw, ExtractText(body))
}
