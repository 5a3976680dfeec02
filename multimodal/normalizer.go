package multimodal

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/types"
)

// DefaultMaxImageBytes is the upper bound on one image's estimated decoded
// size before it is dropped from the batch.
const DefaultMaxImageBytes = 20 * 1024 * 1024

// Prompts that reference images by position. Covers plain numerics
// ("image 2", "img #1"), English ordinal words, and Chinese ordinals
// ("第二张图").
var (
	numericImageRef = regexp.MustCompile(`(?i)\b(?:image|img|picture|photo)\s*#?\d+`)
	ordinalWordRef  = regexp.MustCompile(`(?i)\b(?:first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth)\s+(?:image|img|picture|photo)\b`)
	chineseImageRef = regexp.MustCompile(`第\s*[一二三四五六七八九十0-9]+\s*[张幅个]?\s*(?:图片|图|照片)`)
)

// ReferencesImageOrder reports whether the prompt refers to images by
// ordinal position.
func ReferencesImageOrder(text string) bool {
	return numericImageRef.MatchString(text) ||
		ordinalWordRef.MatchString(text) ||
		chineseImageRef.MatchString(text)
}

// Normalize assembles the outbound message for one batch: the text part
// first (if any), then prior-context images, then freshly uploaded images.
//
// Images whose estimated decoded size exceeds maxImageBytes are dropped
// with a logged diagnostic. If at least one image was supplied but none
// survives filtering, the whole batch fails before any worker starts.
// Likewise when neither text nor any image part remains.
//
// When more than one image part survives and the prompt references images
// by ordinal position, the text is prefixed with an explicit order legend
// so the model can resolve the references. The transform is deterministic.
func Normalize(prompt string, prior, fresh []types.ImageInput, maxImageBytes int, logger *zap.Logger) ([]Part, error) {
	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	supplied := len(prior) + len(fresh)

	var images []Part
	appendFiltered := func(inputs []types.ImageInput, origin ImageOrigin) {
		for i, in := range inputs {
			if in.Data == "" || in.MimeType == "" {
				logger.Warn("dropping image with empty payload",
					zap.String("origin", string(origin)),
					zap.Int("index", i),
				)
				continue
			}
			if est := in.EstimatedBytes(); est > maxImageBytes {
				logger.Warn("dropping oversized image",
					zap.String("origin", string(origin)),
					zap.Int("index", i),
					zap.Int("estimated_bytes", est),
					zap.Int("max_bytes", maxImageBytes),
				)
				continue
			}
			images = append(images, NewImagePart(in, origin))
		}
	}
	appendFiltered(prior, OriginPrior)
	appendFiltered(fresh, OriginFresh)

	if supplied > 0 && len(images) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "all supplied images were dropped during filtering")
	}

	text := strings.TrimSpace(prompt)
	if text == "" && len(images) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "request has no text and no images")
	}

	if text != "" && len(images) > 1 && ReferencesImageOrder(text) {
		text = orderLegend(images) + text
	}

	parts := make([]Part, 0, len(images)+1)
	if text != "" {
		parts = append(parts, NewTextPart(text))
	}
	parts = append(parts, images...)
	return parts, nil
}

// orderLegend builds the "image 1 = ..., image 2 = ..." prefix describing
// each image part's origin in attachment order.
func orderLegend(images []Part) string {
	var b strings.Builder
	b.WriteString("Image order: ")
	priorN, freshN := 0, 0
	for i, img := range images {
		if i > 0 {
			b.WriteString(", ")
		}
		switch img.Origin {
		case OriginPrior:
			priorN++
			fmt.Fprintf(&b, "image %d = previously selected image %d", i+1, priorN)
		default:
			freshN++
			fmt.Fprintf(&b, "image %d = newly uploaded image %d", i+1, freshN)
		}
	}
	b.WriteString(".\n\n")
	return b.String()
}
