package filetype

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Info contains detected file type information.
type Info struct {
	MIMEType  string
	Extension string
	IsPDF     bool
}

// Detect inspects magic bytes, not the filename. Uploads claim to be PDFs;
// this is what decides whether they actually are.
func Detect(data []byte) (*Info, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	mtype := mimetype.Detect(data)
	info := &Info{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
		IsPDF:     mtype.Is("application/pdf"),
	}
	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Msg("detected file type")
	return info, nil
}

// IsImage reports whether a MIME type is a raster image type we store.
func IsImage(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}
