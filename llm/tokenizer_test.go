package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatorTokenizer(t *testing.T) {
	est := NewEstimatorTokenizer()

	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"ascii", "hello world!", 3},      // 12 chars / 4
		{"cjk", "你好世界", 2},                // 4 chars / 1.5, truncated
		{"mixed", "review: 代码评审", 4},      // 8/4 + 4/1.5
		{"tiny ascii floors to one", "x", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := est.CountTokens(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "estimator", est.Name())
}

func TestNewTokenizerFallsBack(t *testing.T) {
	// Whether or not the tiktoken tables are loadable in this environment,
	// counting must succeed and return a positive count.
	tok := NewTokenizer("")

	n, err := tok.CountTokens("the quick brown fox jumps over the lazy dog")
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.NotEmpty(t, tok.Name())
}

func TestTiktokenTokenizerName(t *testing.T) {
	tok := NewTiktokenTokenizer("")
	assert.Equal(t, "tiktoken[cl100k_base]", tok.Name())
}
