package protocol

// Framer accumulates bytes from one connection and splits them into
// complete messages. TCP may fragment or coalesce writes, so a single read
// can hold part of a message or several of them.
type Framer struct {
	buf []byte
}

// Write appends a chunk read from the connection. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes not yet consumed.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Ready reports whether a complete message is waiting. A malformed prefix
// reports true so that the next call to Next surfaces the error.
func (f *Framer) Ready() bool {
	n, err := MessageLen(f.buf)
	return err != nil || n > 0
}

// Next removes and returns the next complete message. It returns
// ErrIncomplete when more bytes are needed. Any other error means the
// stream is unrecoverable.
func (f *Framer) Next() (Message, error) {
	msg, n, err := Decode(f.buf)
	if err != nil {
		return nil, err
	}
	rest := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:rest]
	return msg, nil
}

// Reset drops everything buffered.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
