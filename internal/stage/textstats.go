package stage

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	quantifiedPattern = regexp.MustCompile(`\d+(?:\.\d+)?\s?%|[$€£]\s?\d|\b\d+(?:\.\d+)?\s?[kKmMbB]\b|\b\d{2,}\b`)
	numberedBullet    = regexp.MustCompile(`^\d{1,2}[.)]\s`)
)

var sectionNames = []string{
	"summary", "profile", "objective", "experience", "work experience", "professional experience",
	"employment", "education", "skills", "technical skills", "projects", "certifications",
	"publications", "awards", "languages", "volunteer", "interests",
}

var actionVerbs = []string{
	"led", "built", "designed", "delivered", "launched", "improved", "reduced", "increased",
	"managed", "developed", "implemented", "negotiated", "drove", "owned", "created", "scaled",
}

// textStats are the countable facts both executors derive from resume text.
type textStats struct {
	Words         int
	UniqueWords   int
	Lines         int
	Sections      int
	Bullets       int
	Quantified    int
	ActionVerbs   int
	HasExperience bool
	HasEducation  bool
	tokens        string
}

func analyzeText(text string) textStats {
	stats := textStats{}
	words := strings.Fields(text)
	stats.Words = len(words)

	unique := make(map[string]struct{}, len(words))
	for _, word := range words {
		unique[strings.ToLower(strings.TrimFunc(word, unicode.IsPunct))] = struct{}{}
	}
	stats.UniqueWords = len(unique)

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		stats.Lines++
		if isBullet(line) {
			stats.Bullets++
			continue
		}
		if name, ok := sectionHeading(line); ok {
			stats.Sections++
			if strings.Contains(name, "experience") || name == "employment" {
				stats.HasExperience = true
			}
			if name == "education" {
				stats.HasEducation = true
			}
		}
	}

	stats.Quantified = len(quantifiedPattern.FindAllString(text, -1))
	stats.tokens = tokenize(text)
	for _, verb := range actionVerbs {
		stats.ActionVerbs += strings.Count(stats.tokens, " "+verb+" ")
	}
	return stats
}

// containsTerm matches whole words or phrases only.
func (s textStats) containsTerm(term string) bool {
	return strings.Contains(s.tokens, tokenize(term))
}

func (s textStats) avgWordsPerLine() float64 {
	if s.Lines == 0 {
		return 0
	}
	return float64(s.Words) / float64(s.Lines)
}

func isBullet(line string) bool {
	switch {
	case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "), strings.HasPrefix(line, "•"):
		return true
	default:
		return numberedBullet.MatchString(line)
	}
}

func sectionHeading(line string) (string, bool) {
	if len(line) > 40 {
		return "", false
	}
	name := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(line, ":")))
	for _, section := range sectionNames {
		if name == section {
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

// tokenize lower-cases text and keeps word characters plus / + - so that
// terms like "ci/cd" survive. The result is space padded on both ends.
func tokenize(text string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '/', r == '+', r == '-':
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, text)
	return " " + strings.Join(strings.Fields(mapped), " ") + " "
}
