package tokenizer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", []string{}},
		{"only punctuation", "... --- !!!", []string{}},
		{"lower cases", "The Cat SAT", []string{"the", "cat", "sat"}},
		{"keeps repeats in order", "the cat the", []string{"the", "cat", "the"}},
		{"splits on punctuation", "don't stop-believing.", []string{"don", "t", "stop", "believing"}},
		{"keeps digits and underscore", "route_66 in 1926", []string{"route_66", "in", "1926"}},
		{"unicode letters", "Café Über naïve", []string{"café", "über", "naïve"}},
		{"superscript digits", "x² and x²y", []string{"x²", "and", "x²y"}},
		{"letter numbers", "Chapter Ⅻ", []string{"chapter", "ⅻ"}},
		{"tabs and newlines", "a\tb\nc\r\nd", []string{"a", "b", "c", "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.text))
		})
	}
}

func TestQueryTerms(t *testing.T) {
	assert.Equal(t, []string{"cat", "mat"}, QueryTerms("  Cat   MAT "))
	assert.Equal(t, []string{"cat."}, QueryTerms("cat."), "query words are not re-tokenised")
	assert.Empty(t, QueryTerms("   "))
}

func TestDistinctTerms(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, DistinctTerms([]string{"b", "a", "b", "c", "a"}))
	assert.Empty(t, DistinctTerms(nil))
}

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `Search engines rank documents by how well their terms match a query.
        An inverted index maps each term to the documents that contain it, and
        BM25 weighs term frequency against document length and the rarity of the
        term across the corpus.`,
	"long": strings.Repeat(`Information retrieval systems combine tokenization and term
        weighting to turn raw text into ranked results. The inverted index maps each
        term to its postings, and vector models compare documents by the angle between
        their TF-IDF vectors. `, 20),
}

func BenchmarkTokenize(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = Tokenize(text)
			}
		})
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = Tokenize(text)
		}
	})
}

func BenchmarkTokenizeVaryingSize(b *testing.B) {
	baseWord := "lexical search index vocabulary postings "
	for _, size := range []int{10, 100, 500, 1000, 5000} {
		text := strings.Repeat(baseWord, size/len(baseWord)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = Tokenize(text)
			}
		})
	}
}
