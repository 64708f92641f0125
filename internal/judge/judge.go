// Package judge holds the host's decision collaborators: a Guesser that
// looks at drawings and a Referee that compares guesses with the prompt.
package judge

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/drawsync/internal/drawing"
	"github.com/DoyleJ11/drawsync/internal/guess"
)

// NoGuess is returned by a Guesser that has nothing to say yet. It is never
// published.
const NoGuess = "NO GUESS"

// CheaterCheater is the guess for drawings that contain writing.
const CheaterCheater = "CHEATER CHEATER"

type Guesser interface {
	Guess(ctx context.Context, identity string, lines []drawing.Line) (string, error)
}

type Referee interface {
	Winners(ctx context.Context, prompt string, guesses guess.Table) ([]string, error)
}

// Abstain never guesses. It keeps a host usable without a recogniser.
type Abstain struct{}

func (Abstain) Guess(context.Context, string, []drawing.Line) (string, error) {
	return NoGuess, nil
}

// MatchReferee declares a winner when the guess names the prompt: equal
// after normalisation, or containing the prompt as whole words, so
// "ice cream cone" wins for "ice cream" but "ice" does not.
type MatchReferee struct {
	// Synonyms maps a normalised prompt to extra accepted answers.
	Synonyms map[string][]string
}

func (r MatchReferee) Winners(_ context.Context, prompt string, guesses guess.Table) ([]string, error) {
	target := Normalize(prompt)
	if target == "" {
		return []string{}, nil
	}
	accepted := []string{target}
	for _, s := range r.Synonyms[target] {
		accepted = append(accepted, Normalize(s))
	}

	winners := []string{}
	for identity, g := range guesses {
		if g == NoGuess || g == CheaterCheater {
			continue
		}
		ng := Normalize(g)
		for _, a := range accepted {
			if a != "" && containsWords(ng, a) {
				winners = append(winners, identity)
				break
			}
		}
	}
	sort.Strings(winners)
	return winners, nil
}

// Normalize case-folds s, applies NFKC and collapses everything that is
// not a letter or digit into single spaces.
func Normalize(s string) string {
	// Casers are stateful, so each call gets its own.
	s = cases.Fold().String(norm.NFKC.String(s))
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

func containsWords(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}
