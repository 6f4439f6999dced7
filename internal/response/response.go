// internal/response/response.go
package response

// SulResponse is the output symbol of the learned Mealy machine: an observed fingerprint
// plus the flag cache filtering sets when the response is a learner artifact rather than
// genuine SUL behavior.
type SulResponse struct {
	Fingerprint       Fingerprint `yaml:"fingerprint" json:"fingerprint"`
	IllegalTransition bool        `yaml:"illegal_transition,omitempty" json:"illegal_transition,omitempty"`
}

// New wraps a fingerprint.
func New(f Fingerprint) SulResponse {
	return SulResponse{Fingerprint: f}
}

// Of is a convenience constructor for tests and simulated targets.
func Of(state SocketState, msgs ...MessageType) SulResponse {
	f := Fingerprint{SocketState: state}
	for _, m := range msgs {
		f.Messages = append(f.Messages, Message{Type: m})
	}
	return SulResponse{Fingerprint: f}
}

// IllegalLearnerTransition is the single synthetic output of the dummy state.
func IllegalLearnerTransition() SulResponse {
	return SulResponse{
		Fingerprint:       Fingerprint{SocketState: SocketClosed},
		IllegalTransition: true,
	}
}

// ErrorFingerprint is the sentinel used when the oracle failed with an I/O error.
// Learning treats it as another terminal observation instead of an exception.
func ErrorFingerprint() SulResponse {
	return SulResponse{Fingerprint: Fingerprint{SocketState: SocketException}}
}

// ClosedResponse is what a closed connection answers to any further input.
func ClosedResponse() SulResponse {
	return SulResponse{Fingerprint: Fingerprint{SocketState: SocketClosed}}
}

// IsError reports whether this is the I/O failure sentinel.
func (r SulResponse) IsError() bool {
	return !r.IllegalTransition && r.Fingerprint.SocketState == SocketException && r.Fingerprint.IsEmpty()
}

// Equal compares fingerprints structurally and requires matching illegal flags.
func (r SulResponse) Equal(o SulResponse) bool {
	return r.IllegalTransition == o.IllegalTransition && r.Fingerprint.Equal(o.Fingerprint)
}

// Key is a stable identity consistent with Equal.
func (r SulResponse) Key() string {
	if r.IllegalTransition {
		return "!" + r.Fingerprint.Key()
	}
	return r.Fingerprint.Key()
}

// String implements fmt.Stringer.
func (r SulResponse) String() string {
	if r.IllegalTransition {
		return "ILLEGAL_LEARNER_TRANSITION"
	}
	return r.Fingerprint.String()
}

// SequenceKey is the identity of an output sequence.
func SequenceKey(rs []SulResponse) string {
	n := 0
	for _, r := range rs {
		n += len(r.Key()) + 1
	}
	b := make([]byte, 0, n)
	for i, r := range rs {
		if i > 0 {
			b = append(b, ';')
		}
		b = append(b, r.Key()...)
	}
	return string(b)
}

// EqualSequences compares two output sequences element-wise.
func EqualSequences(a, b []SulResponse) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
