package protocol

type Message interface {
	Type() MessageType
}

// FileMetadata announces a transfer before any of its chunks.
type FileMetadata struct {
	FileID      string `json:"fileId" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Size        int64  `json:"size" validate:"gte=0"`
	TotalChunks int    `json:"totalChunks" validate:"gte=0"`
}

func (FileMetadata) Type() MessageType { return MsgFileMetadata }

// FileChunk carries one chunk of a transfer. Data is base64 on the wire.
type FileChunk struct {
	FileID     string `json:"fileId" validate:"required"`
	ChunkIndex int    `json:"chunkIndex" validate:"gte=0"`
	Data       []byte `json:"data"`
}

func (FileChunk) Type() MessageType { return MsgFileChunk }
