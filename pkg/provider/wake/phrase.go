package wake

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// defaultSimilarity is the minimum Jaro-Winkler score for a fuzzy word match
// when the phonetic codes do not line up.
const defaultSimilarity = 0.85

// Phrase matches a configured wake phrase against transcripts with phonetic
// tolerance. Transcribers regularly mangle invented wake words ("kestrel" →
// "castrol", "kestral"), so each transcript word is compared to each phrase
// word by Double Metaphone code first and Jaro-Winkler similarity second.
//
// Phrase is read-only after construction and safe for concurrent use.
type Phrase struct {
	words      []phraseWord
	similarity float64
}

type phraseWord struct {
	text    string
	primary string
	alt     string
}

// PhraseOption configures a [Phrase] matcher.
type PhraseOption func(*Phrase)

// WithSimilarity sets the minimum Jaro-Winkler score for fuzzy word matches.
// Default: 0.85.
func WithSimilarity(s float64) PhraseOption {
	return func(p *Phrase) {
		p.similarity = s
	}
}

// NewPhrase builds a matcher for the given wake phrase, e.g. "hey kestrel".
func NewPhrase(phrase string, opts ...PhraseOption) *Phrase {
	p := &Phrase{similarity: defaultSimilarity}
	for _, w := range strings.Fields(strings.ToLower(phrase)) {
		pri, alt := matchr.DoubleMetaphone(w)
		p.words = append(p.words, phraseWord{text: w, primary: pri, alt: alt})
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Match reports whether the transcript starts with the wake phrase and, if
// so, returns the transcript with the phrase stripped off. Matching is
// word-by-word: each leading transcript word must match the corresponding
// phrase word phonetically or by string similarity.
func (p *Phrase) Match(transcript string) (bool, string) {
	if len(p.words) == 0 {
		return false, transcript
	}
	fields := strings.Fields(transcript)
	if len(fields) < len(p.words) {
		return false, transcript
	}
	for i, pw := range p.words {
		if !p.wordMatches(fields[i], pw) {
			return false, transcript
		}
	}
	rest := strings.Join(fields[len(p.words):], " ")
	rest = strings.TrimLeft(rest, ",.!? ")
	return true, rest
}

// Contains reports whether the wake phrase appears anywhere in the
// transcript, used to confirm an acoustic activation against what was
// actually transcribed.
func (p *Phrase) Contains(transcript string) bool {
	fields := strings.Fields(transcript)
	if len(fields) < len(p.words) || len(p.words) == 0 {
		return false
	}
	for start := 0; start+len(p.words) <= len(fields); start++ {
		ok := true
		for i, pw := range p.words {
			if !p.wordMatches(fields[start+i], pw) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func (p *Phrase) wordMatches(word string, pw phraseWord) bool {
	w := strings.ToLower(strings.Trim(word, ",.!?;:"))
	if w == pw.text {
		return true
	}
	pri, alt := matchr.DoubleMetaphone(w)
	if pri != "" && (pri == pw.primary || pri == pw.alt) {
		return true
	}
	if alt != "" && (alt == pw.primary || alt == pw.alt) {
		return true
	}
	return matchr.JaroWinkler(w, pw.text, false) >= p.similarity
}
