// Package generator produces post drafts from a topic and tone. Template
// substitution plus light heuristics; good enough to seed the scheduler.
package generator

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

type Variant struct {
	Content   string   `json:"content"`
	Hashtags  []string `json:"hashtags"`
	Score     float64  `json:"score"`
	Rationale string   `json:"rationale"`
}

var (
	wordRe       = regexp.MustCompile(`[A-Za-z][A-Za-z0-9']{3,}`)
	imperativeRe = regexp.MustCompile(`\b(let's|try|do|build|learn|start|join|grab)\b`)
	emojiRe      = regexp.MustCompile("[🚀✨🔥✅🎯💡]")

	stopWords = map[string]bool{
		"this": true, "that": true, "with": true, "from": true,
		"your": true, "about": true, "into": true, "have": true,
	}
)

// Generate returns count draft variants for a topic in the requested tone.
func Generate(topic, tone string, count int) []Variant {
	out := make([]Variant, 0, count)
	for i := 0; i < count; i++ {
		content := fmt.Sprintf("%s — %s take #%d. Action: reply with your biggest blocker.",
			strings.TrimSpace(topic), tone, i+1)
		out = append(out, Variant{
			Content:   content,
			Hashtags:  SuggestHashtags(content, 5),
			Score:     Score(content),
			Rationale: "length_tune|imperative|emoji_opt",
		})
	}
	return out
}

// SuggestHashtags ranks the non-stopword terms of text by frequency, ties
// broken alphabetically, and returns up to limit of them as hashtags.
func SuggestHashtags(text string, limit int) []string {
	words := wordRe.FindAllString(strings.ToLower(text), -1)
	freq := make(map[string]int)
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		freq[w]++
	}
	ranked := make([]string, 0, len(freq))
	for w := range freq {
		ranked = append(ranked, w)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if freq[ranked[i]] != freq[ranked[j]] {
			return freq[ranked[i]] > freq[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	tags := make([]string, len(ranked))
	for i, w := range ranked {
		tags[i] = "#" + w
	}
	return tags
}

// Score estimates engagement in [0,1]: mid-length copy, an imperative verb
// and an emoji each earn a bump.
func Score(text string) float64 {
	score := 0.5
	if l := len(text); l >= 120 && l <= 240 {
		score += 0.3
	}
	if imperativeRe.MatchString(strings.ToLower(text)) {
		score += 0.15
	}
	if emojiRe.MatchString(text) {
		score += 0.05
	}
	if score > 1.0 {
		score = 1.0
	}
	return math.Round(score*100) / 100
}
