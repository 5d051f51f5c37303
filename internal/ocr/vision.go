package ocr

import (
	"context"
	"fmt"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
)

// VisionEngine runs recognition through Google Cloud Vision.
type VisionEngine struct {
	client *vision.ImageAnnotatorClient
	hints  []string
}

// NewVisionEngine creates a client. credentials may be a file path, inline
// JSON, or empty for application default credentials.
func NewVisionEngine(ctx context.Context, credentials string) (*VisionEngine, error) {
	var opts []option.ClientOption
	if c := strings.TrimSpace(credentials); c != "" {
		if strings.HasPrefix(c, "{") {
			opts = append(opts, option.WithCredentialsJSON([]byte(c)))
		} else {
			opts = append(opts, option.WithCredentialsFile(c))
		}
	}
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &VisionEngine{client: client, hints: []string{"zh", "en"}}, nil
}

// Close releases the client.
func (v *VisionEngine) Close() error { return v.client.Close() }

// Annotate runs one BatchAnnotateImages call. General text uses
// TEXT_DETECTION; the other kinds use DOCUMENT_TEXT_DETECTION.
func (v *VisionEngine) Annotate(ctx context.Context, img []byte, kind Kind) (Result, error) {
	feature := visionpb.Feature_DOCUMENT_TEXT_DETECTION
	if kind == KindGeneral {
		feature = visionpb.Feature_TEXT_DETECTION
	}
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:        &visionpb.Image{Content: img},
			Features:     []*visionpb.Feature{{Type: feature}},
			ImageContext: &visionpb.ImageContext{LanguageHints: v.hints},
		}},
	}
	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return Result{Kind: kind}, nil
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return Result{}, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}
	return fromAnnotation(r0.FullTextAnnotation, kind), nil
}

// fromAnnotation flattens pages into words. Confidence is the mean of the
// positive word confidences; text without any confidence scores 0.
func fromAnnotation(fta *visionpb.TextAnnotation, kind Kind) Result {
	res := Result{Kind: kind}
	if fta == nil {
		return res
	}
	res.Text = strings.TrimSpace(fta.Text)

	var sum float64
	var n int
	for _, page := range fta.Pages {
		for _, block := range page.GetBlocks() {
			for _, para := range block.GetParagraphs() {
				for _, w := range para.GetWords() {
					var sb strings.Builder
					for _, sym := range w.GetSymbols() {
						sb.WriteString(sym.GetText())
					}
					word := Word{
						Text:       sb.String(),
						Confidence: float64(w.GetConfidence()),
						Box:        boxOf(w.GetBoundingBox()),
					}
					res.Words = append(res.Words, word)
					if word.Confidence > 0 {
						sum += word.Confidence
						n++
					}
				}
			}
		}
	}
	if n > 0 {
		res.Confidence = sum / float64(n)
	}
	return res
}

func boxOf(bp *visionpb.BoundingPoly) [][2]float64 {
	if bp == nil {
		return nil
	}
	if nv := bp.GetNormalizedVertices(); len(nv) > 0 {
		out := make([][2]float64, 0, len(nv))
		for _, v := range nv {
			out = append(out, [2]float64{float64(v.GetX()), float64(v.GetY())})
		}
		return out
	}
	vs := bp.GetVertices()
	if len(vs) == 0 {
		return nil
	}
	out := make([][2]float64, 0, len(vs))
	for _, v := range vs {
		out = append(out, [2]float64{float64(v.GetX()), float64(v.GetY())})
	}
	return out
}
