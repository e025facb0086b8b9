// Package stream declares the byte-stream capabilities shared by peripheral
// facades. A facade implements the pieces it supports; there is no base
// type to embed.
//
// The end-of-data condition that the board firmware reports as -1 is
// io.EOF here.
package stream

import "io"

// ByteSource is readable one byte at a time.
type ByteSource interface {
	// Available returns how many bytes can be read without blocking.
	Available() int
	io.ByteReader
	// Peek returns the next byte without consuming it.
	Peek() (byte, error)
}

// ByteSink accepts bytes, possibly buffering them until Flush.
type ByteSink interface {
	io.ByteWriter
	io.Writer
	Flush() error
}

// Stream is both readable and writable.
type Stream interface {
	ByteSource
	ByteSink
}

// ReadAvailable drains everything src currently holds into a new slice.
func ReadAvailable(src ByteSource) ([]byte, error) {
	n := src.Available()
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		b, err := src.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
	return out, nil
}
