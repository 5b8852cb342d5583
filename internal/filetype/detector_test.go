package filetype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		isPDF bool
		mime  string
	}{
		{name: "pdf header", data: []byte("%PDF-1.4\n%binary"), isPDF: true, mime: "application/pdf"},
		{name: "plain text", data: []byte("just some notes"), isPDF: false, mime: "text/plain; charset=utf-8"},
		{name: "jpeg", data: []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F'}, isPDF: false, mime: "image/jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Detect(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.isPDF, info.IsPDF)
			assert.Equal(t, tt.mime, info.MIMEType)
		})
	}
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("image/jpeg"))
	assert.True(t, IsImage("image/png"))
	assert.False(t, IsImage("application/pdf"))
}
