// Package client is the submitting side of the receipts pipeline: it reads
// screenshots concurrently, keeps them in a user-ordered list and posts the
// list to the server as one multipart merge request.
//
// All mutable state lives in a Form, an actor that applies one message at a
// time. File reads and submissions run in their own goroutines and only
// report back through the Form's mailbox.
package client

import (
	"bytes"
	"encoding/base64"
	"io"
)

// AcceptedMIMEType is the only declared type the ingestor reads.
const AcceptedMIMEType = "image/png"

// Image is a decoded file. It is immutable once constructed.
type Image struct {
	Name     string
	MimeType string
	Size     uint64

	data []byte
}

// NewImage copies data into a new Image.
func NewImage(name, mimeType string, size uint64, data []byte) Image {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Image{Name: name, MimeType: mimeType, Size: size, data: buf}
}

// Reader returns a reader over the image bytes.
func (i Image) Reader() io.Reader {
	return bytes.NewReader(i.data)
}

// Bytes returns a copy of the image bytes.
func (i Image) Bytes() []byte {
	out := make([]byte, len(i.data))
	copy(out, i.data)
	return out
}

// Len is the number of bytes held.
func (i Image) Len() int {
	return len(i.data)
}

// Equal compares metadata and content.
func (i Image) Equal(o Image) bool {
	return i.Name == o.Name &&
		i.MimeType == o.MimeType &&
		i.Size == o.Size &&
		bytes.Equal(i.data, o.data)
}

// DataURI renders the image as a data URI for previews.
func (i Image) DataURI() string {
	return "data:" + i.MimeType + ";base64," + base64.StdEncoding.EncodeToString(i.data)
}

// SizeMegabytes is the declared size in decimal megabytes.
func (i Image) SizeMegabytes() float64 {
	return float64(i.Size) / 1000000.0
}
