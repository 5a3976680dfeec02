// Package multimodal assembles the single normalized message shared by all
// workers of a batch: data-URI decoding, size filtering, part ordering, and
// the image-order legend for prompts that reference images by position.
package multimodal

import (
	"fmt"
	"strings"

	"github.com/BaSui01/imageflow/types"
)

// PartType represents the type of one normalized content part.
type PartType string

const (
	PartTypeText  PartType = "text"
	PartTypeImage PartType = "image"
)

// ImageOrigin records where an image part came from, for the order legend.
type ImageOrigin string

const (
	OriginPrior ImageOrigin = "prior"
	OriginFresh ImageOrigin = "fresh"
)

// Part is one element of the normalized message. Text parts carry Text;
// image parts carry MimeType plus base64 Data and their origin.
type Part struct {
	Type     PartType    `json:"type"`
	Text     string      `json:"text,omitempty"`
	MimeType string      `json:"mime_type,omitempty"`
	Data     string      `json:"data,omitempty"` // base64 encoded
	Origin   ImageOrigin `json:"origin,omitempty"`
}

// NewTextPart creates a text part.
func NewTextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// NewImagePart creates an image part from a decoded image input.
func NewImagePart(in types.ImageInput, origin ImageOrigin) Part {
	return Part{
		Type:     PartTypeImage,
		MimeType: in.MimeType,
		Data:     in.Data,
		Origin:   origin,
	}
}

// ParseDataURI decodes a "data:{mime};base64,{payload}" URI into an
// ImageInput. Malformed URIs and empty payloads are errors; callers drop
// the image with a diagnostic rather than failing the batch.
func ParseDataURI(uri string) (types.ImageInput, error) {
	if !strings.HasPrefix(uri, "data:") {
		return types.ImageInput{}, fmt.Errorf("not a data URI")
	}
	rest := uri[len("data:"):]
	idx := strings.Index(rest, ";base64,")
	if idx < 0 {
		return types.ImageInput{}, fmt.Errorf("missing base64 marker")
	}
	mime := rest[:idx]
	data := rest[idx+len(";base64,"):]
	if mime == "" {
		return types.ImageInput{}, fmt.Errorf("missing mime type")
	}
	if data == "" {
		return types.ImageInput{}, fmt.Errorf("empty payload")
	}
	return types.ImageInput{MimeType: mime, Data: data}, nil
}

// FormatDataURI is the inverse of ParseDataURI.
func FormatDataURI(in types.ImageInput) string {
	return fmt.Sprintf("data:%s;base64,%s", in.MimeType, in.Data)
}

// SelectedImages collects the images of prior messages marked as selected,
// in message order. These become the prior-context images of the next batch.
func SelectedImages(messages []types.Message) []types.ImageInput {
	var out []types.ImageInput
	for _, msg := range messages {
		if !msg.Selected {
			continue
		}
		out = append(out, msg.Images...)
	}
	return out
}
