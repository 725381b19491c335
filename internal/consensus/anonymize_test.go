package consensus

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responses(models ...string) []ModelResponse {
	out := make([]ModelResponse, len(models))
	for i, m := range models {
		out[i] = ModelResponse{Model: m, Response: "answer from " + m, Success: true}
	}
	return out
}

func TestAnonymize(t *testing.T) {
	tests := []struct {
		name       string
		input      []ModelResponse
		wantLabels []string
		wantModels []string
	}{
		{
			name:       "all succeed",
			input:      responses("a", "b", "c"),
			wantLabels: []string{"Response A", "Response B", "Response C"},
			wantModels: []string{"a", "b", "c"},
		},
		{
			name: "failed model excluded",
			input: []ModelResponse{
				{Model: "a", Response: "x", Success: true},
				{Model: "b", Success: false, Error: "timeout"},
				{Model: "c", Response: "z", Success: true},
			},
			wantLabels: []string{"Response A", "Response B"},
			wantModels: []string{"a", "c"},
		},
		{
			name:  "all failed",
			input: []ModelResponse{{Model: "a"}, {Model: "b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapping, presented := Anonymize(tt.input)

			require.Equal(t, len(tt.wantLabels), mapping.Len())
			require.Len(t, presented, len(tt.wantLabels))
			for i, label := range tt.wantLabels {
				assert.Equal(t, label, presented[i].Label)
				model, ok := mapping.Model(label)
				require.True(t, ok)
				assert.Equal(t, tt.wantModels[i], model)
				back, ok := mapping.Label(model)
				require.True(t, ok)
				assert.Equal(t, label, back, "mapping is a bijection")
			}
		})
	}
}

func TestAnonymize_PromptCarriesNoModelNames(t *testing.T) {
	_, presented := Anonymize([]ModelResponse{
		{Model: "gemma3:27b", Response: "first", Success: true},
		{Model: "gpt-oss:20b", Response: "second", Success: true},
	})

	prompt, err := RankingPrompt("why?", presented)
	require.NoError(t, err)
	assert.NotContains(t, prompt, "gemma3")
	assert.NotContains(t, prompt, "gpt-oss")
	assert.Contains(t, prompt, "Response A:\nfirst")
	assert.Contains(t, prompt, "Response B:\nsecond")
}

func TestAnonymize_FreshMappingPerCall(t *testing.T) {
	first, _ := Anonymize(responses("a", "b"))
	second, _ := Anonymize(responses("c", "d"))

	m, _ := first.Model("Response A")
	assert.Equal(t, "a", m)
	m, _ = second.Model("Response A")
	assert.Equal(t, "c", m)

	_, ok := second.Label("a")
	assert.False(t, ok, "no state shared between requests")
}

func TestAnonymizeShuffled(t *testing.T) {
	input := responses("a", "b", "c", "d", "e")
	mapping, presented := AnonymizeShuffled(input, rand.New(rand.NewPCG(1, 2)))

	require.Len(t, presented, 5)
	seen := map[string]bool{}
	for i, p := range presented {
		assert.Equal(t, "Response "+letters(i), p.Label, "labels follow presentation order")
		model, ok := mapping.Model(p.Label)
		require.True(t, ok)
		assert.Equal(t, "answer from "+model, p.Text)
		seen[model] = true
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, responses("a", "b", "c", "d", "e"), input, "input untouched")
}

func TestLetters(t *testing.T) {
	tests := map[int]string{0: "A", 1: "B", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA"}
	for i, want := range tests {
		assert.Equal(t, want, letters(i), "index %d", i)
	}
}
