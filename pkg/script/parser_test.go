package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDialogue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		expected []Line
	}{
		{
			name: "canonical labels",
			raw:  "Speaker 1: Hello there.\nSpeaker 2: Hi, glad to be here.",
			expected: []Line{
				{Speaker: 1, Text: "Hello there."},
				{Speaker: 2, Text: "Hi, glad to be here."},
			},
		},
		{
			name: "name and letter labels",
			raw:  "Alex: So what did you think?\nJordan: Honestly, impressive.\nA: Right?\nB: Completely.",
			expected: []Line{
				{Speaker: 1, Text: "So what did you think?"},
				{Speaker: 2, Text: "Honestly, impressive."},
				{Speaker: 1, Text: "Right?"},
				{Speaker: 2, Text: "Completely."},
			},
		},
		{
			name: "case insensitive and compact",
			raw:  "speaker1: One.\nSPEAKER 2: Two.",
			expected: []Line{
				{Speaker: 1, Text: "One."},
				{Speaker: 2, Text: "Two."},
			},
		},
		{
			name: "continuation lines append",
			raw:  "Speaker 1: The finding was\nsurprisingly robust.\nSpeaker 2: Agreed.",
			expected: []Line{
				{Speaker: 1, Text: "The finding was surprisingly robust."},
				{Speaker: 2, Text: "Agreed."},
			},
		},
		{
			name: "leading prose before first label is dropped",
			raw:  "Here is your podcast:\n\nSpeaker 1: Welcome.\nSpeaker 2: Thanks.",
			expected: []Line{
				{Speaker: 1, Text: "Welcome."},
				{Speaker: 2, Text: "Thanks."},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			lines, err := ParseDialogue(tc.raw)

			require.NoError(t, err)
			assert.Equal(t, tc.expected, lines)
		})
	}
}

func TestParseDialogueMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    string
		labels int
	}{
		{name: "single speaker", raw: "Speaker 1: All alone here.\nSpeaker 1: Still alone.", labels: 1},
		{name: "no labels", raw: "Just a plain narration without any speakers.", labels: 0},
		{name: "empty", raw: "", labels: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseDialogue(tc.raw)

			var malformed *MalformedScriptError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, tc.labels, malformed.DistinctLabels)
		})
	}
}

func TestNormalizeLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, normalizeLabel("Speaker 1"))
	assert.Equal(t, 1, normalizeLabel("speaker1"))
	assert.Equal(t, 1, normalizeLabel("Alex"))
	assert.Equal(t, 1, normalizeLabel("A"))
	assert.Equal(t, 2, normalizeLabel("Speaker 2"))
	assert.Equal(t, 2, normalizeLabel("Jordan"))
	assert.Equal(t, 2, normalizeLabel("B"))
}
