package ocr

import (
	"testing"

	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/stretchr/testify/assert"
)

func word(text string, conf float32) *visionpb.Word {
	var syms []*visionpb.Symbol
	for _, r := range text {
		syms = append(syms, &visionpb.Symbol{Text: string(r)})
	}
	return &visionpb.Word{
		Symbols:    syms,
		Confidence: conf,
		BoundingBox: &visionpb.BoundingPoly{
			Vertices: []*visionpb.Vertex{{X: 1, Y: 2}, {X: 3, Y: 4}},
		},
	}
}

func TestFromAnnotation(t *testing.T) {
	fta := &visionpb.TextAnnotation{
		Text: " 答案 5 \n",
		Pages: []*visionpb.Page{{
			Blocks: []*visionpb.Block{{
				Paragraphs: []*visionpb.Paragraph{{
					Words: []*visionpb.Word{word("答案", 0.9), word("5", 0.7), word("?", 0)},
				}},
			}},
		}},
	}
	res := fromAnnotation(fta, KindHandwritten)
	assert.Equal(t, "答案 5", res.Text)
	assert.Len(t, res.Words, 3)
	assert.Equal(t, "答案", res.Words[0].Text)
	assert.InDelta(t, 0.8, res.Confidence, 1e-6)
	assert.Equal(t, [][2]float64{{1, 2}, {3, 4}}, res.Words[0].Box)

	empty := fromAnnotation(nil, KindGeneral)
	assert.Equal(t, KindGeneral, empty.Kind)
	assert.Zero(t, empty.Confidence)
}
