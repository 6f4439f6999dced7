package response

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintEquality(t *testing.T) {
	a := Fingerprint{
		Messages:    []Message{Msg(MsgAlert, "level", "fatal", "description", "bad_record_mac")},
		Records:     []Record{{ContentType: "ALERT", Length: 2}},
		SocketState: SocketClosed,
	}
	b := Fingerprint{
		Messages:    []Message{Msg(MsgAlert, "description", "bad_record_mac", "level", "fatal")},
		Records:     []Record{{ContentType: "ALERT", Length: 2}, {ContentType: "ALERT", Length: 0}},
		SocketState: SocketClosed,
	}

	assert.True(t, a.Equal(b), "record structure is not part of structural equality")
	assert.Equal(t, a.Key(), b.Key(), "field order must not influence the key")

	c := b
	c.Messages = []Message{Msg(MsgAlert, "level", "fatal", "description", "decrypt_error")}
	assert.False(t, a.Equal(c))
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestSulResponse_IllegalFlagParticipatesInEquality(t *testing.T) {
	closed := ClosedResponse()
	illegal := IllegalLearnerTransition()

	assert.True(t, closed.Fingerprint.Equal(illegal.Fingerprint))
	assert.False(t, closed.Equal(illegal))
	assert.NotEqual(t, closed.Key(), illegal.Key())
	assert.True(t, ErrorFingerprint().IsError())
	assert.False(t, illegal.IsError())
}

func TestCheckEquality(t *testing.T) {
	base := Fingerprint{
		Messages:    []Message{Msg(MsgAlert, "description", "bad_record_mac")},
		Records:     []Record{{ContentType: "ALERT", Length: 2}},
		SocketState: SocketClosed,
	}

	tests := []struct {
		name   string
		mutate func(f Fingerprint) Fingerprint
		want   EqualityError
		leaks  bool
	}{
		{"identical", func(f Fingerprint) Fingerprint { return f }, EqualityNone, false},
		{"socket state", func(f Fingerprint) Fingerprint { f.SocketState = SocketUp; return f }, EqualitySocketState, true},
		{"message count", func(f Fingerprint) Fingerprint { f.Messages = nil; return f }, EqualityMessageCount, true},
		{"message class", func(f Fingerprint) Fingerprint {
			f.Messages = []Message{Msg(MsgFinished)}
			return f
		}, EqualityMessageClass, true},
		{"message fields", func(f Fingerprint) Fingerprint {
			f.Messages = []Message{Msg(MsgAlert, "description", "decrypt_error")}
			return f
		}, EqualityMessageFields, true},
		{"record count", func(f Fingerprint) Fingerprint {
			f.Records = append([]Record{}, f.Records[0], Record{ContentType: "ALERT", Length: 0})
			return f
		}, EqualityRecordCount, true},
		{"record length", func(f Fingerprint) Fingerprint {
			f.Records = []Record{{ContentType: "ALERT", Length: 31}}
			return f
		}, EqualityRecordLength, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckEquality(base, tt.mutate(base))
			assert.Equal(t, tt.want, got, "got %s", got)
			assert.Equal(t, tt.leaks, got.LeaksInformation())
		})
	}
}

func TestSequenceHelpers(t *testing.T) {
	a := []SulResponse{Of(SocketUp, MsgServerHello), ClosedResponse()}
	b := []SulResponse{Of(SocketUp, MsgServerHello), ClosedResponse()}
	assert.True(t, EqualSequences(a, b))
	assert.Equal(t, SequenceKey(a), SequenceKey(b))
	assert.False(t, EqualSequences(a, b[:1]))
}
