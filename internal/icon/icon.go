// Package icon loads entry icons and compresses them for the head unit.
package icon

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/example/carmenu/internal/logging"
)

// ErrEmpty is returned for icons without any pixels.
var ErrEmpty = errors.New("icon has no pixels")

var encoder = png.Encoder{CompressionLevel: png.BestCompression}

// Compress scales img to fit width x height, centred on a transparent canvas,
// and encodes the result as PNG.
func Compress(img image.Image, width, height int) ([]byte, error) {
	if img == nil {
		return nil, ErrEmpty
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid icon size %dx%d", width, height)
	}
	src := img.Bounds()
	if src.Empty() {
		return nil, ErrEmpty
	}

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, fit(src, dst.Bounds()), img, src, draw.Over, nil)

	var buf bytes.Buffer
	if err := encoder.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode icon: %w", err)
	}
	logging.Debugf("compressed %dx%d icon to %dx%d (%d bytes)", src.Dx(), src.Dy(), width, height, buf.Len())
	return buf.Bytes(), nil
}

// fit returns the largest rectangle inside bounds that keeps src's aspect
// ratio, centred.
func fit(src, bounds image.Rectangle) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	if src.Dx()*h > src.Dy()*w {
		h = src.Dy() * w / src.Dx()
	} else {
		w = src.Dx() * h / src.Dy()
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	x := bounds.Min.X + (bounds.Dx()-w)/2
	y := bounds.Min.Y + (bounds.Dy()-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// Decode parses PNG, JPEG, GIF, BMP or WebP data.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode icon: %w", err)
	}
	logging.Debugf("decoded %s icon %v", format, img.Bounds())
	return img, nil
}

// Load reads and decodes an icon file.
func Load(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read icon %s: %w", path, err)
	}
	return Decode(data)
}
