package storage

import (
	"io"

	"livinginsider-scraper/models"
)

// ListingWriter is the interface any persistence backend must satisfy.
type ListingWriter interface {
	Write(listings []*models.Listing) error
	Close() error
}

// Renderer turns a finished job's rows into one export format, streamed to w.
type Renderer interface {
	Render(w io.Writer, listings []*models.Listing) error
	ContentType() string
	FileExtension() string
}
