package ingest

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
)

//go:embed questions.yaml
var questionsYAML []byte

var (
	questionsOnce sync.Once
	questions     []domain.ReferenceQuestion
)

// LoadReferenceQuestions returns the static reference question set.
// The set is compiled into the binary and parsed once.
func LoadReferenceQuestions() []domain.ReferenceQuestion {
	questionsOnce.Do(func() {
		qs, err := parseQuestions(questionsYAML)
		if err != nil {
			// The embedded file is validated by tests; an error here is a build defect.
			slog.Error("parse embedded reference questions", "error", err)
			return
		}
		questions = qs
	})

	out := make([]domain.ReferenceQuestion, len(questions))
	copy(out, questions)
	return out
}

func parseQuestions(data []byte) ([]domain.ReferenceQuestion, error) {
	var doc struct {
		Questions []domain.ReferenceQuestion `yaml:"questions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	for i, q := range doc.Questions {
		if q.Question == "" || q.Category == "" {
			return nil, fmt.Errorf("question %d: question and category are required", i)
		}
	}
	return doc.Questions, nil
}

// ReferenceChunks turns reference questions into indexable chunks tagged with their category.
func ReferenceChunks(qs []domain.ReferenceQuestion) []domain.Chunk {
	chunks := make([]domain.Chunk, 0, len(qs))
	for _, q := range qs {
		category := q.Category
		chunks = append(chunks, domain.Chunk{
			Text: q.Question,
			Metadata: domain.ChunkMetadata{
				Source:   domain.SourcePredefined,
				Category: &category,
			},
		})
	}
	return chunks
}
