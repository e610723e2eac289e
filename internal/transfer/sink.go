package transfer

// Delivery describes where a completed incoming file ended up.
type Delivery struct {
	Path     string
	MimeType string
}

// Sink takes ownership of a fully reassembled file.
type Sink interface {
	Deliver(name string, data []byte) (Delivery, error)
}

type SinkFunc func(name string, data []byte) (Delivery, error)

func (f SinkFunc) Deliver(name string, data []byte) (Delivery, error) {
	return f(name, data)
}

var discardSink = SinkFunc(func(string, []byte) (Delivery, error) {
	return Delivery{}, nil
})
