package media

import (
	"context"
	"fmt"
	"strings"
)

// File is an attachment materialized for upload to a chat platform.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Materialize turns a result attachment into an uploadable file. Data URLs
// are decoded, http(s) URLs are downloaded and anything else is treated as
// plain text.
func (f *Fetcher) Materialize(ctx context.Context, input, basename string) (*File, error) {
	switch {
	case IsDataURL(input):
		d, err := Decode(input)
		if err != nil {
			return nil, err
		}
		return &File{Name: basename + "." + d.Extension(), ContentType: d.MIMEType, Data: d.Data}, nil

	case strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://"):
		d, err := f.Fetch(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("materialize: %w", err)
		}
		if d.MIMEType == DefaultMIMEType {
			d = &DataURL{MIMEType: "image/png", Data: d.Data}
		}
		return &File{Name: basename + "." + d.Extension(), ContentType: d.MIMEType, Data: d.Data}, nil

	default:
		return &File{Name: basename + ".txt", ContentType: "text/plain", Data: []byte(input)}, nil
	}
}
