// internal/reporting/guidance.go
package reporting

import "github.com/xkilldash9x/stateprobe/internal/analysis/core"

// guidance is the rule text shown for a finding category.
type guidance struct {
	Title          string
	Description    string
	Recommendation string
}

var categoryGuidance = map[core.Category]guidance{
	core.CategoryRequiredSuccessorLeadsToError: {
		Title:          "Required successor leads to error",
		Description:    "A message the protocol flow requires at this point was answered with an error.",
		Recommendation: "Check that the implementation accepts every message the flow mandates in this state.",
	},
	core.CategoryOptionalSuccessorUnexpected: {
		Title:          "Optional successor has unexpected response",
		Description:    "An optional message of the flow produced a response the flow does not allow.",
		Recommendation: "Compare the response against the protocol definition for the optional step.",
	},
	core.CategoryUnexpectedResponse: {
		Title:          "Unexpected response",
		Description:    "A step of the protocol flow produced a response other than the expected one.",
		Recommendation: "Review the message handling for the step and the expected response definition.",
	},
	core.CategoryIgnoredInput: {
		Title:          "Illegal input ignored",
		Description:    "An input that is illegal in this state was silently accepted without a state change.",
		Recommendation: "Reject out-of-order messages with an alert or close the connection.",
	},
	core.CategoryLeavesHappyFlow: {
		Title:          "Illegal input leaves happy flow",
		Description:    "An illegal input moved the machine out of the happy flow without terminating it.",
		Recommendation: "Terminate the session when an illegal message is received.",
	},
	core.CategoryReturnsToHappyFlow: {
		Title:          "Illegal input returns to happy flow",
		Description:    "After an illegal input the machine can still complete the protocol.",
		Recommendation: "Make illegal messages fatal so no later message can resume the handshake.",
	},
	core.CategoryUnwantedHappyFlow: {
		Title:          "Unwanted happy flow",
		Description:    "The machine completes a flow that must never succeed.",
		Recommendation: "Treat as a likely state machine bypass and audit the acceptance path.",
	},
	core.CategoryConflictingStateName: {
		Title:          "Conflicting state name",
		Description:    "Two flows assign different names to the same machine state.",
		Recommendation: "Reconcile the flow definitions or investigate unexpected state merging.",
	},
	core.CategoryRedundantState: {
		Title:          "Redundant state",
		Description:    "The state behaves identically to another state on every observed input.",
		Recommendation: "Usually benign. Confirm the learner settings if the duplication is unexpected.",
	},
	core.CategoryIllegalTransition: {
		Title:          "Illegal learner transition",
		Description:    "The learned machine contains a transition the learner itself should not produce.",
		Recommendation: "Re-run extraction with more majority votes to rule out nondeterminism.",
	},
	core.CategoryPaddingOracle: {
		Title:          "Padding oracle",
		Description:    "Different padding errors lead to distinguishable responses or states.",
		Recommendation: "Handle every decryption failure identically, including timing and alert type.",
	},
	core.CategoryBleichenbacher: {
		Title:          "Bleichenbacher oracle",
		Description:    "Malformed key exchange messages produce distinguishable behaviour.",
		Recommendation: "Apply implicit rejection so every malformed premaster secret is handled identically.",
	},
	core.CategoryResponseAnomaly: {
		Title:          "Response anomaly",
		Description:    "A response appeared that is unusual compared to the rest of the machine.",
		Recommendation: "Inspect the response for leaked internal state or error detail.",
	},
}

// guidanceFor returns the rule text for category, falling back to a generic entry built
// from the finding description.
func guidanceFor(category, description string) guidance {
	if g, ok := categoryGuidance[core.Category(category)]; ok {
		return g
	}
	title := category
	if title == "" {
		title = "Unclassified deviation"
	}
	return guidance{
		Title:          title,
		Description:    description,
		Recommendation: "Review the reported state and input path.",
	}
}
