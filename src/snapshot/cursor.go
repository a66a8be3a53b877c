package snapshot

import "io"

// BytesRef adapts an already-serialized machine state to a Ref.
type BytesRef []byte

func (r BytesRef) Persist(w io.Writer) error {
	_, err := w.Write(r)
	return err
}

// CursorFunc adapts a capture function to a ReleaseCursor. The function
// runs on the participant's task when the backend prepares a write.
type CursorFunc func() (Ref, error)

func (f CursorFunc) Capture() (Ref, error) {
	return f()
}
