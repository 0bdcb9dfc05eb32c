package helpers

import (
	"io"
)

// WriteAll repeats Write until b is sent. Serial drivers may accept
// less than asked when output buffer is full. Writer that makes no
// progress without error gets io.ErrShortWrite.
func WriteAll(w io.Writer, b []byte) (int, error) {
	total := 0
	for len(b) > 0 {
		n, err := w.Write(b)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
		b = b[n:]
	}
	return total, nil
}
