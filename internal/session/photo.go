package session

import (
	"bytes"

	"github.com/google/uuid"
)

// Photo is one completed capture: the encoded bytes exactly as the camera
// produced them. It is not modified after construction.
type Photo struct {
	ID           string
	OriginalData []byte
}

// NewPhoto copies data into a Photo with a freshly generated ID.
func NewPhoto(data []byte) *Photo {
	return NewPhotoWithID("", data)
}

// NewPhotoWithID is NewPhoto with a caller-chosen ID. An empty id is replaced
// by a generated one.
func NewPhotoWithID(id string, data []byte) *Photo {
	if id == "" {
		id = uuid.NewString()
	}
	return &Photo{ID: id, OriginalData: bytes.Clone(data)}
}

// Size returns the encoded length in bytes.
func (p *Photo) Size() int {
	if p == nil {
		return 0
	}
	return len(p.OriginalData)
}

// Equal reports whether both photos have the same ID and bytes.
func (p *Photo) Equal(o *Photo) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.ID == o.ID && bytes.Equal(p.OriginalData, o.OriginalData)
}
