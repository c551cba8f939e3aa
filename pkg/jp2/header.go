package jp2

import "github.com/jpfielding/jp2.go/pkg/jp2/codestream"

// Header describes an encoded image without decoding it
type Header struct {
	Width    int  `json:"width"`
	Height   int  `json:"height"`
	HasAlpha bool `json:"hasAlpha"`
	// PremultipliedAlpha is set when the stored colour is already scaled
	// by alpha.
	PremultipliedAlpha bool   `json:"premultipliedAlpha,omitempty"`
	NumResolutions     int    `json:"numResolutions"`
	NumQualityLayers   int    `json:"numQualityLayers"`
	Format             Format `json:"-"`
	NumComponents      int    `json:"numComponents"`
	Precision          int    `json:"precision"`
}

// ReadHeader reads the main header of src. Only the JP2 boxes, the main
// header markers and the tile-part markers are read, so the cost does not
// depend on the amount of tile data. Truncated input is an ErrFormat.
func ReadHeader(src *Source) (Header, error) {
	return readHeader(src, DefaultMaxInputSize)
}

func readHeader(src *Source, maxSize int64) (Header, error) {
	info, err := src.inspect(maxSize)
	if err != nil {
		return Header{}, err
	}
	return headerFromInfo(info), nil
}

func headerFromInfo(info *codestream.Info) Header {
	return Header{
		Width:              info.Width(),
		Height:             info.Height(),
		HasAlpha:           info.HasAlpha(),
		PremultipliedAlpha: info.HasAlpha() && info.PremultipliedAlpha(),
		NumResolutions:     info.NumResolutions(),
		NumQualityLayers:   info.NumQualityLayers(),
		Format:             info.Format,
		NumComponents:      info.NumComponents(),
		Precision:          info.SIZ.Components[0].Precision,
	}
}
