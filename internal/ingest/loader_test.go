package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

func TestLoadReferenceQuestions(t *testing.T) {
	qs := LoadReferenceQuestions()

	require.Len(t, qs, 117)

	categories := map[string]int{}
	byQuestion := map[string]string{}
	for _, q := range qs {
		categories[q.Category]++
		byQuestion[q.Question] = q.Category
	}
	assert.Len(t, categories, 18)
	assert.Len(t, byQuestion, len(qs), "questions must be unique")
	assert.Equal(t, "IT Fundamentals", byQuestion["What is the role of IT support in a company?"])
}

func TestLoadReferenceQuestions_ReturnsCopy(t *testing.T) {
	qs := LoadReferenceQuestions()
	qs[0].Category = "mutated"

	assert.NotEqual(t, "mutated", LoadReferenceQuestions()[0].Category)
}

func TestParseQuestions_RejectsIncomplete(t *testing.T) {
	_, err := parseQuestions([]byte("questions:\n  - question: \"Why?\"\n"))
	require.Error(t, err)
}

func TestReferenceChunks(t *testing.T) {
	chunks := ReferenceChunks([]domain.ReferenceQuestion{
		{Question: "How to reset a password?", Category: "Security"},
		{Question: "How to map a network drive?", Category: "Networking"},
	})

	require.Len(t, chunks, 2)
	assert.Equal(t, "How to reset a password?", chunks[0].Text)
	assert.Equal(t, domain.SourcePredefined, chunks[0].Metadata.Source)
	require.NotNil(t, chunks[0].Metadata.Category)
	assert.Equal(t, "Security", *chunks[0].Metadata.Category)
	assert.Equal(t, "Networking", *chunks[1].Metadata.Category)
	assert.Nil(t, chunks[0].Metadata.PageNumber)
}

func TestLoader_LoadAndChunkSource_Missing(t *testing.T) {
	l := NewLoader(nil)

	_, err := l.LoadAndChunkSource(filepath.Join(t.TempDir(), "missing.pdf"))

	require.ErrorIs(t, err, port.ErrSourceNotFound)
}

func TestLoader_LoadAndChunkSource_TextPages(t *testing.T) {
	page1 := "Introduction\n\nIT support keeps the company running."
	page2 := "Chapter 3: Networking basics\n\nA router forwards packets between networks."
	page3 := "This line mentions a chapter but it is far too long to be a heading, so it must never be treated as one by the loader."
	path := filepath.Join(t.TempDir(), "handbook.txt")
	require.NoError(t, os.WriteFile(path, []byte(page1+"\f"+page2+"\f"+page3), 0o644))

	l := NewLoader(NewSplitter(WithChunkSize(60), WithOverlap(10)))
	chunks, err := l.LoadAndChunkSource(path)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	pages := map[int]bool{}
	for _, c := range chunks {
		require.NotNil(t, c.Metadata.PageNumber)
		pages[*c.Metadata.PageNumber] = true
		assert.Equal(t, path, c.Metadata.Source)

		switch *c.Metadata.PageNumber {
		case 2:
			require.NotNil(t, c.Metadata.Chapter)
			assert.Equal(t, "Chapter 3: Networking basics", *c.Metadata.Chapter)
		default:
			assert.Nil(t, c.Metadata.Chapter)
		}
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, pages)
}

func TestDetectChapter(t *testing.T) {
	assert.Equal(t, "CHAPTER 1 Introduction", detectChapter("\n  CHAPTER 1 Introduction  \nbody"))
	assert.Empty(t, detectChapter("no heading here"))
	assert.Empty(t, detectChapter(strings.Repeat("chapter ", 20)))
}
