package coordinator

import (
	"strings"

	"github.com/dreamware/fleetmesh/internal/model"
)

// Classifier maps an unclassified Request to a capability name for Resolve
// to expand over the registry (matched=false leaves the request for the LLM
// router to claim). The core ships only the explicit-target and
// keyword-rule strategies; an embedding-similarity classifier is
// domain-dependent and left for callers to inject.
type Classifier interface {
	Classify(req model.Request) (capability string, score float64, matched bool)
}

// KeywordClassifier matches a request's payload against capability
// keywords, in declaration order, first match wins.
type KeywordClassifier struct {
	Rules []KeywordRule
}

type KeywordRule struct {
	Capability string
	Keywords   []string
}

func (c *KeywordClassifier) Classify(req model.Request) (string, float64, bool) {
	payload := strings.ToLower(string(req.Payload))
	for _, rule := range c.Rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(payload, strings.ToLower(kw)) {
				return rule.Capability, 1.0, true
			}
		}
	}
	return "", 0, false
}

// classify resolves req's RouteDecision.Reason and either a concrete
// TargetAgent or a capability name for Resolve to expand: explicit target
// wins outright, then keyword rules, otherwise the request falls through
// to the LLM router if IsLLMBearing, else is unroutable.
func classify(req model.Request, classifier Classifier) (capabilityOrAgent string, reason model.RouteReason, score float64) {
	if req.TargetAgent != "" {
		return req.TargetAgent, model.ReasonExplicitTarget, 1.0
	}
	if classifier != nil {
		if agent, sc, ok := classifier.Classify(req); ok {
			return agent, model.ReasonKeywordMatch, sc
		}
	}
	return "", model.ReasonFallback, 0
}
