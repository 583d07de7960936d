// internal/imageproc/tensor.go
package imageproc

import (
	"fmt"
	"image"
	"image/color"

	"github.com/nfnt/resize"

	"github.com/SyedDaiam9101/firewatch/internal/inference"
)

// Normalization maps 8-bit channel values into the range the model was trained on.
type Normalization string

const (
	// Unit scales to [0,1] with v/255.
	Unit Normalization = "unit"
	// Symmetric scales to [-1,1] with v/127.5 - 1, the MobileNetV2 convention.
	Symmetric Normalization = "symmetric"
)

// Apply normalizes a single 0..255 channel value.
func (n Normalization) Apply(v uint8) float32 {
	if n == Symmetric {
		return float32(v)/127.5 - 1
	}
	return float32(v) / 255.0
}

// Parse returns the Normalization named s.
func Parse(s string) (Normalization, error) {
	switch Normalization(s) {
	case Unit, Symmetric:
		return Normalization(s), nil
	case "":
		return Unit, nil
	}
	return "", fmt.Errorf("unknown normalization %q", s)
}

// ToTensor resizes img to the engine's input size and lays out normalized RGB
// values in the order the engine expects. Alpha is dropped.
func ToTensor(img image.Image, spec inference.InputSpec, norm Normalization) inference.Tensor {
	w, h := spec.Width, spec.Height
	resized := resize.Resize(uint(w), uint(h), img, resize.Bilinear)

	bounds := resized.Bounds()

	t := inference.Tensor{Shape: spec.Shape()}
	t.Data = make([]float32, t.Size())
	plane := w * h

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Straight (non-premultiplied) colour; alpha is dropped
			c := color.NRGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			r, g, b := c.R, c.G, c.B

			pixelIndex := y*w + x
			if spec.Layout == inference.NCHW {
				t.Data[pixelIndex] = norm.Apply(r)
				t.Data[plane+pixelIndex] = norm.Apply(g)
				t.Data[2*plane+pixelIndex] = norm.Apply(b)
			} else {
				t.Data[3*pixelIndex] = norm.Apply(r)
				t.Data[3*pixelIndex+1] = norm.Apply(g)
				t.Data[3*pixelIndex+2] = norm.Apply(b)
			}
		}
	}
	return t
}
