package orchestrator

import (
	"regexp"
	"strings"
)

// Out-of-domain and identity-question pre-filters run before any tool is
// engaged, generalizing the intent-detection stage of a WARPP-style
// pipeline into two cheap, deterministic classifiers plus an optional
// model-backed fallback for queries neither regex confidently resolves.

// domainKeywords lists vocabulary that marks a query as plausibly in-scope
// for the legal/regulatory/operational domain this engine answers. A query
// matching none of these and matching an explicit off-topic pattern is
// refused without ever reaching the tool loop.
var domainKeywords = regexp.MustCompile(`(?i)\b(visa|kitas|kitap|immigration|imigrasi|pasal|bab|uu|pp no|peraturan|regulation|regulasi|tax|pajak|npwp|kbli|license|izin|perusahaan|company|pt pma|business|investasi|investment|fee|biaya|harga|price|compliance|kepatuhan|permit|requirement|persyaratan)\b`)

// offTopicPatterns recognizes utterances clearly outside the domain
// (small talk, unrelated trivia, coding requests) regardless of whether they
// happen to contain a stray domain keyword.
var offTopicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(weather|football|cuaca|resep masakan|recipe|write (me )?a (poem|song)|tell me a joke)\b`),
	regexp.MustCompile(`(?i)\bwrite (some |a )?(python|go|javascript|code)\b`),
}

// OutOfDomainRefusal is the fixed response returned for off-topic queries.
const OutOfDomainRefusal = "I can only help with Indonesian legal, regulatory, and business-operations questions (visas, licensing, tax, company setup, and related compliance). Could you rephrase your question within that scope?"

// isOutOfDomain is a cheap, deterministic classifier: it refuses only when
// an explicit off-topic pattern matches and no domain keyword is present,
// erring toward letting ambiguous queries through to the model.
func isOutOfDomain(query string) bool {
	if domainKeywords.MatchString(query) {
		return false
	}
	for _, p := range offTopicPatterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}

// identityQuestionPattern recognizes queries asking the assistant to state
// who the user is, in English and Indonesian, so the orchestrator can answer
// straight from the assembled profile without spending a tool-call step.
var identityQuestionPattern = regexp.MustCompile(`(?i)\b(who am i|what('?s| is) my (name|role|department)|siapa (saya|aku)|apa (peran|jabatan|departemen) saya)\b`)

func isIdentityQuestion(query string) bool {
	return identityQuestionPattern.MatchString(strings.TrimSpace(query))
}
