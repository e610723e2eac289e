package protocol

// MaxChunkSize bounds the chunk size a node may be configured with.
const MaxChunkSize = 64 * 1024

// MessageType is the value of the "type" field of every wire message.
type MessageType string

const (
	MsgFileChunk    MessageType = "file-chunk"
	MsgFileMetadata MessageType = "file-metadata"
)

func (t MessageType) String() string {
	switch t {
	case MsgFileChunk, MsgFileMetadata:
		return string(t)
	default:
		return "unknown"
	}
}
