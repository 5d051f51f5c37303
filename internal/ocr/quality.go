package ocr

import (
	"bytes"
	"image"
	"math"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Quality limits for the pre-check.
const (
	MinSide      = 100
	MaxSide      = 4096
	MinMean      = 50.0
	MaxMean      = 205.0
	MinStdDev    = 20.0
	DefaultBlur  = 100.0
	statsMaxSide = 1024
)

// QualityStats are the measurements taken by CheckQuality.
type QualityStats struct {
	Width, Height int
	Mean, StdDev  float64
	Laplacian     float64
}

// Measure reads the header of img, rejects it when its dimensions are out
// of range, and only then decodes it and computes grayscale statistics.
// Images larger than statsMaxSide are downscaled first.
func Measure(img []byte) (QualityStats, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return QualityStats{}, &QualityError{Reason: "undecodable"}
	}
	st := QualityStats{Width: cfg.Width, Height: cfg.Height}
	if err := checkSize(st.Width, st.Height); err != nil {
		return st, err
	}

	src, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return st, &QualityError{Reason: "undecodable"}
	}
	b := src.Bounds()

	w, h := st.Width, st.Height
	if m := max(w, h); m > statsMaxSide {
		scale := float64(statsMaxSide) / float64(m)
		w = max(1, int(float64(w)*scale))
		h = max(1, int(float64(h)*scale))
	}
	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), src, b, draw.Src, nil)

	n := float64(w * h)
	var sum, sumSq float64
	for _, p := range gray.Pix {
		v := float64(p)
		sum += v
		sumSq += v * v
	}
	st.Mean = sum / n
	st.StdDev = math.Sqrt(math.Max(0, sumSq/n-st.Mean*st.Mean))
	st.Laplacian = laplacianVariance(gray)
	return st, nil
}

func checkSize(w, h int) error {
	switch {
	case w < MinSide || h < MinSide:
		return &QualityError{Reason: "too_small", Value: float64(min(w, h))}
	case w > MaxSide || h > MaxSide:
		return &QualityError{Reason: "too_large", Value: float64(max(w, h))}
	}
	return nil
}

// laplacianVariance is the variance of the 4-neighbour Laplacian over the interior.
func laplacianVariance(g *image.Gray) float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	at := func(x, y int) float64 { return float64(g.Pix[y*g.Stride+x]) }
	var sum, sumSq float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			l := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += l
			sumSq += l * l
		}
	}
	n := float64((w - 2) * (h - 2))
	mean := sum / n
	return sumSq/n - mean*mean
}

// CheckQuality rejects images outside the size window, too dark or bright,
// low in contrast, or blurrier than blurThreshold. It returns *QualityError.
func CheckQuality(img []byte, blurThreshold float64) error {
	st, err := Measure(img)
	if err != nil {
		return err
	}
	switch {
	case st.Mean < MinMean:
		return &QualityError{Reason: "too_dark", Value: st.Mean}
	case st.Mean > MaxMean:
		return &QualityError{Reason: "too_bright", Value: st.Mean}
	case st.StdDev < MinStdDev:
		return &QualityError{Reason: "low_contrast", Value: st.StdDev}
	case st.Laplacian < blurThreshold:
		return &QualityError{Reason: "blurry", Value: st.Laplacian}
	}
	return nil
}
