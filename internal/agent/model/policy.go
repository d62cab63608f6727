package model

// Topicality is the on/off-topic decision of the classifier.
type Topicality bool

const (
	OnTopic  Topicality = true
	OffTopic Topicality = false
)

// UnclassifiableDefault is the single fail-open decision applied whenever the
// classifier cannot reach a definitive answer: regex miss plus embedding and
// LLM failures, an unparseable LLM label, or a recovered panic. Legitimate
// members must never be rejected because of an infrastructure hiccup.
const UnclassifiableDefault = OnTopic

// UnclassifiableConfidence is reported alongside UnclassifiableDefault when
// the LLM stage could not produce a judgement.
const UnclassifiableConfidence = 0.5

// RegexConfidence is the fixed confidence of a regex stage match.
const RegexConfidence = 0.95
