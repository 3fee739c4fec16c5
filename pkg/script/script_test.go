package script

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperwave/paperwave/pkg/llm"
)

type fakeLLM struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
}

func (f *fakeLLM) Generate(context.Context, string, ...llm.Opt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) Model() string { return "fake" }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCacheKeyDeterministic(t *testing.T) {
	t.Parallel()

	hints := Hints{Accent: "british", Style: "formal", Expressiveness: "high"}

	key1 := CacheKey("the quick brown fox", Dialogue, hints)
	key2 := CacheKey("the quick brown fox", Dialogue, hints)

	assert.Equal(t, key1, key2)
	assert.Len(t, key1, 32)
	assert.Regexp(t, "^[0-9a-f]{32}$", key1)
}

func TestCacheKeyNormalizesWhitespace(t *testing.T) {
	t.Parallel()

	key1 := CacheKey("hello   world", Narration, Hints{})
	key2 := CacheKey("hello\nworld", Narration, Hints{})
	key3 := CacheKey("  hello world  ", Narration, Hints{})

	assert.Equal(t, key1, key2)
	assert.Equal(t, key1, key3)
}

func TestCacheKeyVariesWithInputs(t *testing.T) {
	t.Parallel()

	base := CacheKey("same text", Narration, Hints{})

	assert.NotEqual(t, base, CacheKey("other text", Narration, Hints{}))
	assert.NotEqual(t, base, CacheKey("same text", Dialogue, Hints{}))
	assert.NotEqual(t, base, CacheKey("same text", Narration, Hints{Podcast: true}))
	assert.NotEqual(t, base, CacheKey("same text", Narration, Hints{EntirePDF: true}))
	assert.NotEqual(t, base, CacheKey("same text", Narration, Hints{Accent: "british"}))
	assert.NotEqual(t, base, CacheKey("same text", Narration, Hints{Style: "formal"}))
	assert.NotEqual(t, base, CacheKey("same text", Narration, Hints{Expressiveness: "low"}))
}

func TestCacheKeyLongInputsShareKeyOnCommonPrefix(t *testing.T) {
	t.Parallel()

	prefix := make([]rune, keyRunes)
	for i := range prefix {
		prefix[i] = 'x'
	}

	key1 := CacheKey(string(prefix)+" first tail", Narration, Hints{})
	key2 := CacheKey(string(prefix)+" second tail", Narration, Hints{})

	assert.Equal(t, key1, key2)
}

func TestSynthesizeNarrationCaches(t *testing.T) {
	t.Parallel()

	fake := &fakeLLM{reply: "A calm walk through the paper's main result."}
	synth := NewSynthesizer(fake)

	first, err := synth.Synthesize(t.Context(), "some source text", Narration, Hints{})
	require.NoError(t, err)
	second, err := synth.Synthesize(t.Context(), "some source text", Narration, Hints{})
	require.NoError(t, err)

	assert.Equal(t, 1, fake.callCount())
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Key, second.Key)
	assert.Empty(t, first.Lines)
}

func TestSynthesizeCachedCopyIsIndependent(t *testing.T) {
	t.Parallel()

	fake := &fakeLLM{reply: "Speaker 1: Hello.\nSpeaker 2: Hi."}
	synth := NewSynthesizer(fake)

	first, err := synth.Synthesize(t.Context(), "dialogue source", Dialogue, Hints{})
	require.NoError(t, err)

	first.Text = "mutated"
	first.Lines[0].Text = "mutated"

	second, err := synth.Synthesize(t.Context(), "dialogue source", Dialogue, Hints{})
	require.NoError(t, err)

	assert.Equal(t, "Speaker 1: Hello.\nSpeaker 2: Hi.", second.Text)
	assert.Equal(t, "Hello.", second.Lines[0].Text)
}

func TestSynthesizeDialogueParsesLines(t *testing.T) {
	t.Parallel()

	fake := &fakeLLM{reply: "Speaker 1: Welcome to the show.\nSpeaker 2: Happy to be here."}
	synth := NewSynthesizer(fake)

	result, err := synth.Synthesize(t.Context(), "dialogue source", Dialogue, Hints{Podcast: true})

	require.NoError(t, err)
	require.Len(t, result.Lines, 2)
	assert.Equal(t, 1, result.Lines[0].Speaker)
	assert.Equal(t, 2, result.Lines[1].Speaker)
}

func TestSynthesizeErrorNotCached(t *testing.T) {
	t.Parallel()

	fake := &fakeLLM{err: errors.New("backend down")}
	synth := NewSynthesizer(fake)

	_, err := synth.Synthesize(t.Context(), "text", Narration, Hints{})
	require.ErrorIs(t, err, ErrSynthFailed)

	fake.mu.Lock()
	fake.err = nil
	fake.reply = "Recovered narration."
	fake.mu.Unlock()

	result, err := synth.Synthesize(t.Context(), "text", Narration, Hints{})

	require.NoError(t, err)
	assert.Equal(t, "Recovered narration.", result.Text)
	assert.Equal(t, 2, fake.callCount())
}

func TestSynthesizeMalformedDialogue(t *testing.T) {
	t.Parallel()

	fake := &fakeLLM{reply: "Speaker 1: Talking to myself again."}
	synth := NewSynthesizer(fake)

	_, err := synth.Synthesize(t.Context(), "text", Dialogue, Hints{})

	var malformed *MalformedScriptError
	require.ErrorAs(t, err, &malformed)
}

func TestBuildPromptWordBudgets(t *testing.T) {
	t.Parallel()

	assert.Contains(t, buildPrompt("src", Narration, Hints{Expressiveness: "low"}), "150 words")
	assert.Contains(t, buildPrompt("src", Narration, Hints{Expressiveness: "medium"}), "300 words")
	assert.Contains(t, buildPrompt("src", Narration, Hints{}), "300 words")
	assert.Contains(t, buildPrompt("src", Narration, Hints{Expressiveness: "high"}), "600 words")
}

func TestBuildPromptIncludesHints(t *testing.T) {
	t.Parallel()

	prompt := buildPrompt("the source", Dialogue, Hints{Accent: "british", Style: "playful"})

	assert.Contains(t, prompt, "Speaker 1:")
	assert.Contains(t, prompt, "Speaker 2:")
	assert.Contains(t, prompt, "british")
	assert.Contains(t, prompt, "playful")
	assert.Contains(t, prompt, "the source")
}
