package jp2

import "github.com/jpfielding/jp2.go/pkg/jp2/codestream"

// Format is the container kind: JP2 boxes or a raw J2K codestream
type Format = codestream.Format

// Container kinds
const (
	FormatJ2K = codestream.FormatJ2K
	FormatJP2 = codestream.FormatJP2
)

// IsJPEG2000 reports whether b starts with the JP2 signature box (long or
// short form) or the SOC+SIZ markers of a raw codestream. It never fails.
func IsJPEG2000(b []byte) bool {
	_, ok := codestream.Detect(b)
	return ok
}

// DetectFormat identifies the container kind of b
func DetectFormat(b []byte) (Format, bool) {
	return codestream.Detect(b)
}

// ParseFormat maps "jp2" or "j2k" (also "j2c", "jpc") to a Format
func ParseFormat(s string) (Format, error) {
	switch s {
	case "jp2", "JP2":
		return FormatJP2, nil
	case "j2k", "J2K", "j2c", "jpc":
		return FormatJ2K, nil
	default:
		return FormatJ2K, invalid("format", s, "want jp2 or j2k")
	}
}
