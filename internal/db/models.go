package db

// Transfer is one row of transfer history. Times are unix milliseconds;
// FinishedAt is zero while the transfer is in flight.
type Transfer struct {
	ID          uint   `gorm:"primaryKey"`
	TransferID  string `gorm:"uniqueIndex;not null"`
	Name        string `gorm:"not null"`
	Size        int64
	TotalChunks int
	Direction   string `gorm:"index"`
	PeerID      string
	State       string `gorm:"index"`
	MimeType    string
	Path        string
	Error       string
	Chunks      int
	Bytes       int64
	StartedAt   int64 `gorm:"index"`
	FinishedAt  int64
}
