package contextbuilder

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resumeText = `Jane Doe
Backend Engineer

Summary
Engineer focused on distributed systems.

Experience
- Built a Kubernetes platform serving 40 teams
- Reduced cloud spend by 30%

Education
BSc Computer Science

Interests
Chess, hiking`

func TestSectionRetrieverSplitsAtHeadings(t *testing.T) {
	chunks, err := NewSectionRetriever().Retrieve(context.Background(), RetrievalInput{Task: "appeal", Text: resumeText})
	require.NoError(t, err)

	headings := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		headings = append(headings, chunk.Heading)
	}
	assert.Equal(t, []string{"", "summary", "experience", "education", "interests"}, headings)
	assert.Greater(t, chunks[2].Score, chunks[4].Score)
}

func TestBuilderKeepsEverythingWithinBudget(t *testing.T) {
	output, err := NewBuilder(NewSectionRetriever()).Build(context.Background(), BuildInput{Task: "structure", Text: resumeText})
	require.NoError(t, err)

	assert.False(t, output.Truncated)
	assert.Len(t, output.Chunks, 5)
	assert.True(t, strings.HasPrefix(output.ContextText, "Jane Doe"))
	assert.Less(t, strings.Index(output.ContextText, "Experience"), strings.Index(output.ContextText, "Education"))
}

func TestBuilderDropsLowValueSectionsFirst(t *testing.T) {
	padding := strings.Repeat("Led cross-team delivery of payment features. ", 8)
	text := strings.Replace(resumeText, "- Reduced cloud spend by 30%", "- Reduced cloud spend by 30%\n"+padding, 1)

	chunks, err := NewSectionRetriever().Retrieve(context.Background(), RetrievalInput{Task: "appeal", Text: text})
	require.NoError(t, err)
	budget := -1
	for _, chunk := range chunks {
		budget += estimateTokens(chunk.Text)
	}

	output, err := NewBuilder(NewSectionRetriever()).Build(context.Background(), BuildInput{
		Task:           "appeal",
		Text:           text,
		Keywords:       []string{"kubernetes"},
		MaxInputTokens: budget,
	})
	require.NoError(t, err)

	assert.True(t, output.Truncated)
	assert.Contains(t, output.ContextText, "Kubernetes platform")
	assert.NotContains(t, output.ContextText, "Chess")
	assert.LessOrEqual(t, output.TokenCount, budget)
}

func TestBuilderTruncatesOversizedSingleSection(t *testing.T) {
	text := strings.Repeat("word ", 400)
	output, err := NewBuilder(NewSectionRetriever()).Build(context.Background(), BuildInput{Text: text, MaxInputTokens: 20})
	require.NoError(t, err)
	require.Len(t, output.Chunks, 1)
	assert.LessOrEqual(t, len([]rune(output.ContextText)), 80)
}

func TestBuilderReturnsCachedCopies(t *testing.T) {
	builder := NewBuilder(NewSectionRetriever())
	first, err := builder.Build(context.Background(), BuildInput{Task: "appeal", Text: resumeText})
	require.NoError(t, err)
	first.Chunks[0].Text = "mutated"

	second, err := builder.Build(context.Background(), BuildInput{Task: "appeal", Text: resumeText})
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", second.Chunks[0].Text)
}
