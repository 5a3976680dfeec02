package multimodal

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/imageflow/types"
)

func TestParseDataURI(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		wantMime string
		wantData string
		wantErr  bool
	}{
		{
			name:     "valid png",
			uri:      "data:image/png;base64,aGVsbG8=",
			wantMime: "image/png",
			wantData: "aGVsbG8=",
		},
		{
			name:     "valid jpeg",
			uri:      "data:image/jpeg;base64,Zm9v",
			wantMime: "image/jpeg",
			wantData: "Zm9v",
		},
		{
			name:    "missing data prefix",
			uri:     "image/png;base64,aGVsbG8=",
			wantErr: true,
		},
		{
			name:    "missing base64 marker",
			uri:     "data:image/png,aGVsbG8=",
			wantErr: true,
		},
		{
			name:    "empty payload",
			uri:     "data:image/png;base64,",
			wantErr: true,
		},
		{
			name:    "missing mime type",
			uri:     "data:;base64,aGVsbG8=",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ParseDataURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMime, in.MimeType)
			assert.Equal(t, tt.wantData, in.Data)
		})
	}
}

func TestProperty_DataURI_RoundTrip(t *testing.T) {
	mimes := []string{"image/png", "image/jpeg", "image/webp", "image/gif"}

	rapid.Check(t, func(rt *rapid.T) {
		raw := rapid.SliceOfN(rapid.Byte(), 1, 256).Draw(rt, "raw")
		mime := rapid.SampledFrom(mimes).Draw(rt, "mime")

		in := types.ImageInput{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(raw),
		}

		decoded, err := ParseDataURI(FormatDataURI(in))
		require.NoError(t, err)
		assert.Equal(t, in.MimeType, decoded.MimeType)
		assert.Equal(t, in.Data, decoded.Data)
	})
}

func TestSelectedImages(t *testing.T) {
	img := func(data string) types.ImageInput {
		return types.ImageInput{MimeType: "image/png", Data: data}
	}

	messages := []types.Message{
		{Role: types.RoleUser, Text: "first", Timestamp: time.Now()},
		{Role: types.RoleAssistant, Images: []types.ImageInput{img("a"), img("b")}, Selected: true},
		{Role: types.RoleAssistant, Images: []types.ImageInput{img("c")}},
		{Role: types.RoleAssistant, Images: []types.ImageInput{img("d")}, Selected: true},
	}

	got := SelectedImages(messages)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Data)
	assert.Equal(t, "b", got[1].Data)
	assert.Equal(t, "d", got[2].Data)
}

func TestEstimatedBytes(t *testing.T) {
	raw := make([]byte, 300)
	in := types.ImageInput{
		MimeType: "image/png",
		Data:     base64.StdEncoding.EncodeToString(raw),
	}
	assert.Equal(t, 300, in.EstimatedBytes())
}
