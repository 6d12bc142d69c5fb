// Package imaging decodes uploaded image bytes into OpenCV matrices.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"gocv.io/x/gocv"
)

// Decode turns raw image bytes into a BGR Mat. OpenCV handles the common
// container formats; Go's image decoders cover what the linked OpenCV build
// may lack (notably webp). The caller owns the returned Mat.
func Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), fmt.Errorf("empty image payload")
	}

	m, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err == nil && !m.Empty() {
		return m, nil
	}
	if err == nil {
		m.Close()
	}

	decoded, _, derr := image.Decode(bytes.NewReader(data))
	if derr != nil {
		return gocv.NewMat(), fmt.Errorf("decode image: %w", derr)
	}
	rgb, merr := gocv.ImageToMatRGB(decoded)
	if merr != nil {
		return gocv.NewMat(), fmt.Errorf("convert image: %w", merr)
	}
	defer rgb.Close()

	// BGR<->RGB is a symmetric channel swap.
	bgr := gocv.NewMat()
	gocv.CvtColor(rgb, &bgr, gocv.ColorBGRToRGB)
	return bgr, nil
}
