package llm

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tiktoken encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// Tokenizer counts prompt tokens. Used for logging and budget accounting,
// never for gating: a failed count must not block a task.
type Tokenizer interface {
	CountTokens(text string) (int, error)
	Name() string
}

// TiktokenTokenizer counts tokens with a tiktoken encoding. The encoding
// tables load lazily on first use; loading can pull data from disk or the
// network, so construction stays cheap.
type TiktokenTokenizer struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
}

// NewTiktokenTokenizer creates a tokenizer for the given encoding name
// (empty means DefaultEncoding).
func NewTiktokenTokenizer(encoding string) *TiktokenTokenizer {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TiktokenTokenizer{encoding: encoding}
}

func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// EstimatorTokenizer estimates token counts from character classes. CJK
// characters run ~1.5 chars/token, the rest ~4 chars/token, which beats a
// naive len/4 on mixed text.
type EstimatorTokenizer struct{}

// NewEstimatorTokenizer creates the character-class estimator.
func NewEstimatorTokenizer() *EstimatorTokenizer {
	return &EstimatorTokenizer{}
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	estimated := int(float64(cjkCount)/1.5 + float64(totalChars-cjkCount)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

func (e *EstimatorTokenizer) Name() string {
	return "estimator"
}

// NewTokenizer returns a tokenizer that counts with tiktoken and degrades
// permanently to the estimator if the encoding tables cannot be loaded.
func NewTokenizer(encoding string) Tokenizer {
	return &fallbackTokenizer{
		exact:    NewTiktokenTokenizer(encoding),
		estimate: NewEstimatorTokenizer(),
	}
}

type fallbackTokenizer struct {
	exact    *TiktokenTokenizer
	estimate *EstimatorTokenizer

	mu       sync.Mutex
	degraded bool
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	f.mu.Lock()
	degraded := f.degraded
	f.mu.Unlock()

	if !degraded {
		n, err := f.exact.CountTokens(text)
		if err == nil {
			return n, nil
		}
		f.mu.Lock()
		f.degraded = true
		f.mu.Unlock()
	}
	return f.estimate.CountTokens(text)
}

func (f *fallbackTokenizer) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.degraded {
		return f.estimate.Name()
	}
	return f.exact.Name()
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}

var (
	_ Tokenizer = (*TiktokenTokenizer)(nil)
	_ Tokenizer = (*EstimatorTokenizer)(nil)
	_ Tokenizer = (*fallbackTokenizer)(nil)
)
