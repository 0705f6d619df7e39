package crawler

import (
	"net/url"
	"regexp"

	"github.com/horazont/muchopper/types"
)

var candidatePattern = regexp.MustCompile(
	`(?i)(?P<scheme>xmpp:)?(?P<addr>[^?\s]+)(?P<query>\?join)?`,
)

// A ScoredCandidate is an address spotted in a message body together
// with a confidence score.
type ScoredCandidate struct {
	Address types.Address
	Score   int
}

// ExtractCandidateAddresses scans free text for things that look like
// room addresses. Every address-shaped token is scored by the signals
// around it: an xmpp: scheme, a ?join query and the presence of a
// localpart each count one. Tokens without any signal are discarded,
// which keeps plain prose and web URLs out of the candidate stream.
func ExtractCandidateAddresses(text string) []ScoredCandidate {
	var out []ScoredCandidate
	for _, match := range candidatePattern.FindAllStringSubmatch(text, -1) {
		scheme, rawAddr, query := match[1], match[2], match[3]

		unescaped, err := url.PathUnescape(rawAddr)
		if err != nil {
			continue
		}
		addr, err := types.ParseAddress(unescaped)
		if err != nil {
			continue
		}

		score := 0
		if scheme != "" {
			score++
		}
		if query != "" {
			score++
		}
		if addr.Localpart != "" {
			score++
		}
		if score == 0 {
			continue
		}
		out = append(out, ScoredCandidate{Address: addr.Bare(), Score: score})
	}
	return out
}
