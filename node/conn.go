package node

// Conn is the interface for connection.
type Conn interface {
	// Read performs one non-blocking read. It returns (nil, nil) when nothing
	// is available yet and io.EOF once the peer has closed its side.
	Read() (data []byte, err error)

	// Write sends data with one non-blocking write.
	Write(data []byte) (err error)

	// Close closes the connection.
	Close() error

	Fd() int
	ID() string
	Ip() string
}

type Buffer interface {
	// DataToWrite returns the next unsent chunk.
	DataToWrite() []byte

	Next(n int)

	Len() int
}

// BufferedConn is the interface for buffered connection.
type BufferedConn interface {
	Conn
	Buffer
}

// Outcome tells the loop what to do with a connection after a readable event.
type Outcome uint8

const (
	OutcomeKeep Outcome = iota
	OutcomeClose
)

func (o Outcome) String() string {
	switch o {
	case OutcomeKeep:
		return "keep"
	case OutcomeClose:
		return "close"
	default:
		return "unknown"
	}
}
