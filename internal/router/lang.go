package router

import "strings"

type langProfile struct {
	code  string
	stops []string
}

// Stopword profiles for the languages the corpus can plausibly hold,
// in priority order for tie-breaking.
var langProfiles = []langProfile{
	{"en", []string{"the", "is", "are", "what", "how", "do", "does", "to", "of", "and", "can", "i", "you", "a", "in"}},
	{"es", []string{"el", "la", "los", "las", "es", "son", "que", "como", "de", "y", "puedo", "para", "un", "una", "en"}},
	{"fr", []string{"le", "les", "est", "que", "comment", "des", "et", "je", "vous", "une", "pour"}},
	{"de", []string{"der", "die", "das", "ist", "wie", "und", "ich", "sie", "ein", "eine", "nicht", "kann"}},
}

// DetectLanguage guesses the language of a short question by counting
// stopword hits per profile. Returns "" when nothing matches — unknown
// language is never treated as a mismatch.
func DetectLanguage(text string) string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return ""
	}
	present := make(map[string]bool, len(words))
	for _, w := range words {
		present[strings.Trim(w, ".,;:!?¿¡\"'()")] = true
	}

	best, bestScore := "", 0
	for _, p := range langProfiles {
		score := 0
		for _, s := range p.stops {
			if present[s] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = p.code, score
		}
	}
	return best
}
