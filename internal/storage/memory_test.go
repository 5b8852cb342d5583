package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPutGetList(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	url, err := m.Put(ctx, "papers/pdf/abc/p.pdf", []byte("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, m.URL("papers/pdf/abc/p.pdf"), url)

	got, err := m.Get(ctx, "papers/pdf/abc/p.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), got)

	_, err = m.Get(ctx, "papers/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Put(ctx, "papers/abc/page_1_img_1.jpg", []byte{0xff, 0xd8}, "image/jpeg")
	require.NoError(t, err)

	keys, err := m.List(ctx, "papers/abc/")
	require.NoError(t, err)
	assert.Equal(t, []string{"papers/abc/page_1_img_1.jpg"}, keys)
	assert.Equal(t, 2, m.Len())
}

func TestMemoryCopiesData(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	buf := []byte("original")
	_, err := m.Put(ctx, "k", buf, "text/plain")
	require.NoError(t, err)
	buf[0] = 'X'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}
