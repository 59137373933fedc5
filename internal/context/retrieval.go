package contextbuilder

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

type RetrievalInput struct {
	Task     string
	Text     string
	Keywords []string
}

// Chunk is one section of a resume. Order is its position in the source text.
type Chunk struct {
	ID      string
	Heading string
	Text    string
	Score   float64
	Order   int
}

type Retriever interface {
	Retrieve(ctx context.Context, input RetrievalInput) ([]Chunk, error)
}

var knownHeadings = []string{
	"summary", "profile", "objective", "experience", "work experience", "professional experience",
	"employment", "education", "skills", "technical skills", "projects", "certifications",
	"publications", "awards", "languages", "volunteer", "interests",
}

// sectionWeights rank sections per task. Unknown headings get the default.
var sectionWeights = map[string]map[string]float64{
	"appeal": {
		"experience": 1.0, "work experience": 1.0, "professional experience": 1.0, "employment": 0.9,
		"projects": 0.8, "skills": 0.8, "technical skills": 0.8, "summary": 0.7, "profile": 0.7,
		"certifications": 0.6, "awards": 0.6, "education": 0.4, "interests": 0.1,
	},
}

// SectionRetriever splits resume text at section headings and scores each
// section by keyword hits and how much the task cares about it.
type SectionRetriever struct{}

func NewSectionRetriever() *SectionRetriever {
	return &SectionRetriever{}
}

func (r *SectionRetriever) Retrieve(_ context.Context, input RetrievalInput) ([]Chunk, error) {
	sections := splitSections(input.Text)
	chunks := make([]Chunk, 0, len(sections))
	for index, section := range sections {
		text := strings.TrimSpace(section.body)
		if text == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			ID:      fmt.Sprintf("section-%d", index+1),
			Heading: section.heading,
			Text:    text,
			Score:   computeScore(input, section.heading, text, index),
			Order:   index,
		})
	}
	return chunks, nil
}

type section struct {
	heading string
	body    string
}

func splitSections(text string) []section {
	sections := make([]section, 0, 8)
	current := section{}
	var body strings.Builder
	flush := func() {
		current.body = body.String()
		if strings.TrimSpace(current.body) != "" {
			sections = append(sections, current)
		}
		body.Reset()
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, " \t\r")
		if heading, ok := headingOf(strings.TrimSpace(line)); ok {
			flush()
			current = section{heading: heading}
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return sections
}

func headingOf(line string) (string, bool) {
	if line == "" || len(line) > 40 {
		return "", false
	}
	name := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(line, ":")))
	for _, known := range knownHeadings {
		if name == known {
			return name, true
		}
	}
	letters := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return -1
	}, line)
	if len(letters) >= 4 && strings.ToUpper(letters) == letters && len(strings.Fields(line)) <= 4 {
		return name, true
	}
	return "", false
}

func computeScore(input RetrievalInput, heading, text string, index int) float64 {
	score := 0.5
	if weights, ok := sectionWeights[strings.ToLower(input.Task)]; ok {
		if weight, ok := weights[heading]; ok {
			score = weight
		}
	}
	lowered := strings.ToLower(text)
	hits := 0
	for _, keyword := range input.Keywords {
		if keyword != "" && strings.Contains(lowered, strings.ToLower(keyword)) {
			hits++
		}
	}
	score += 0.1 * float64(min(hits, 5))
	// The opening block carries the candidate's name and headline.
	if index == 0 {
		score += 1
	}
	return score
}
