package preview

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

func testImage(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 180, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format))
	return buf.Bytes()
}

func decode(t *testing.T, data []byte) (image.Image, string) {
	t.Helper()

	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img, format
}

func TestThumbnail(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		size    int
		wantW   int
		wantH   int
		wantErr bool
	}{
		{name: "landscape fits box", data: testImage(t, 400, 200, imaging.PNG), size: 100, wantW: 100, wantH: 50},
		{name: "portrait fits box", data: testImage(t, 150, 300, imaging.JPEG), size: 60, wantW: 30, wantH: 60},
		{name: "small image kept", data: testImage(t, 40, 30, imaging.PNG), size: 100, wantW: 40, wantH: 30},
		{name: "default size", data: testImage(t, 640, 640, imaging.JPEG), size: 0, wantW: DefaultSize, wantH: DefaultSize},
		{name: "empty data", data: nil, size: 100, wantErr: true},
		{name: "broken image", data: []byte("not-an-image"), size: 100, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Thumbnail(tt.data, tt.size, 0)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			img, format := decode(t, out)
			require.Equal(t, "jpeg", format)
			require.Equal(t, tt.wantW, img.Bounds().Dx())
			require.Equal(t, tt.wantH, img.Bounds().Dy())
		})
	}
}

func TestThumbnail_EmptyError(t *testing.T) {
	_, err := Thumbnail(nil, 10, 10)
	require.ErrorIs(t, err, ErrEmptyImage)
}

func TestRenderer_CachesByID(t *testing.T) {
	r := NewRenderer(50, 0)
	first, err := r.Render("a", testImage(t, 200, 100, imaging.PNG))
	require.NoError(t, err)

	// Same id: cached result, even though the bytes are different.
	again, err := r.Render("a", []byte("ignored"))
	require.NoError(t, err)
	require.Equal(t, first, again)

	_, err = r.Render("b", []byte("broken"))
	require.Error(t, err)

	second, err := r.Render("c", testImage(t, 100, 200, imaging.PNG))
	require.NoError(t, err)
	img, _ := decode(t, second)
	require.Equal(t, 25, img.Bounds().Dx())
	require.Equal(t, 50, img.Bounds().Dy())
}
