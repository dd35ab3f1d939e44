package bus

import "strings"

const (
	// IDSMax is the maximum number of session ids a single multi-id
	// keep-alive/cancel packet may carry.
	IDSMax = 64
	// BulkPacketSizeMax is the maximum serialized size, in bytes, of a
	// multi-id request.
	BulkPacketSizeMax = 65000
)

// FrameStream prepends the stream-mode instance id prefix to an outbound
// payload addressed through a router-style send-to-addr operation.
func FrameStream(instanceID string, payload []byte) []byte {
	out := make([]byte, 0, len(instanceID)+1+len(payload))
	out = append(out, instanceID...)
	out = append(out, ' ')
	out = append(out, payload...)
	return out
}

// UnframeStream strips the leading "<instanceID> " prefix from an inbound
// stream-mode message. It reports ok=false (mismatch, to be dropped with a
// warning) if the message does not start with exactly that prefix.
func UnframeStream(instanceID string, msg []byte) (payload []byte, ok bool) {
	prefix := instanceID + " "
	if !strings.HasPrefix(string(msg), prefix) {
		return nil, false
	}
	return msg[len(prefix):], true
}
