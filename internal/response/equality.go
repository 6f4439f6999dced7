// internal/response/equality.go
package response

// EqualityError classifies how two fingerprints differ. The classes are ordered from the
// coarsest difference to the finest, and CheckEquality reports the first one found.
type EqualityError int

const (
	// EqualityNone means the fingerprints are indistinguishable, records included.
	EqualityNone EqualityError = iota
	// EqualitySocketState means the connection ended up in a different state.
	EqualitySocketState
	// EqualityMessageCount means a different number of messages was received.
	EqualityMessageCount
	// EqualityMessageClass means the same number of messages but different classes.
	EqualityMessageClass
	// EqualityMessageFields means the same classes but different critical fields
	// (e.g. a different alert description).
	EqualityMessageFields
	// EqualityRecordCount means identical messages fragmented into a different number of records.
	EqualityRecordCount
	// EqualityRecordLength means identical record structure with differing record lengths.
	EqualityRecordLength
)

var equalityNames = map[EqualityError]string{
	EqualityNone:          "NONE",
	EqualitySocketState:   "SOCKET_STATE",
	EqualityMessageCount:  "MESSAGE_COUNT",
	EqualityMessageClass:  "MESSAGE_CLASS",
	EqualityMessageFields: "MESSAGE_FIELDS",
	EqualityRecordCount:   "RECORD_COUNT",
	EqualityRecordLength:  "RECORD_LENGTH",
}

func (e EqualityError) String() string {
	if s, ok := equalityNames[e]; ok {
		return s
	}
	return "UNKNOWN"
}

// LeaksInformation reports whether the difference is observable to an attacker. Record
// length differences are tolerated because they are expected for randomized padding.
func (e EqualityError) LeaksInformation() bool {
	return e != EqualityNone && e != EqualityRecordLength
}

// CheckEquality compares two fingerprints and returns the coarsest difference class.
func CheckEquality(a, b Fingerprint) EqualityError {
	if a.SocketState != b.SocketState {
		return EqualitySocketState
	}
	if len(a.Messages) != len(b.Messages) {
		return EqualityMessageCount
	}
	for i := range a.Messages {
		if a.Messages[i].Type != b.Messages[i].Type {
			return EqualityMessageClass
		}
	}
	for i := range a.Messages {
		if !a.Messages[i].equal(b.Messages[i]) {
			return EqualityMessageFields
		}
	}
	if len(a.Records) != len(b.Records) {
		return EqualityRecordCount
	}
	for i := range a.Records {
		if a.Records[i].ContentType != b.Records[i].ContentType {
			return EqualityRecordCount
		}
	}
	if recordsKey(a.Records) != recordsKey(b.Records) {
		return EqualityRecordLength
	}
	return EqualityNone
}
