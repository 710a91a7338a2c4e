package upload

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
)

const thumbnailQuality = 80

// Thumbnail decodes an image and scales it to fit in maxDim x maxDim,
// keeping the aspect ratio. Images already within bounds are re-encoded
// unscaled. PNG input stays PNG, everything else becomes JPEG.
func Thumbnail(data []byte, maxDim uint) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	thumb := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)

	var buf bytes.Buffer

	if format == "png" {
		err = png.Encode(&buf, thumb)
	} else {
		err = jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbnailQuality})
	}

	if err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}

	return buf.Bytes(), nil
}
