// Package codestream reads and writes the structural parts of JPEG 2000 data:
// the main codestream header (ITU-T Rec. T.800 | ISO/IEC 15444-1 Annex A) and
// the JP2 box container (Annex I). It never touches entropy-coded tile data.
package codestream

// JPEG 2000 Marker codes (ITU-T T.800 Table A.1)
const (
	// Delimiting markers
	MarkerSOC = 0xFF4F // Start of codestream
	MarkerSOT = 0xFF90 // Start of tile-part
	MarkerSOD = 0xFF93 // Start of data
	MarkerEOC = 0xFFD9 // End of codestream

	// Fixed information markers
	MarkerSIZ = 0xFF51 // Image and tile size
	MarkerCAP = 0xFF50 // Extended capabilities

	// Functional markers
	MarkerCOD = 0xFF52 // Coding style default
	MarkerCOC = 0xFF53 // Coding style component
	MarkerRGN = 0xFF5E // Region of interest
	MarkerQCD = 0xFF5C // Quantization default
	MarkerQCC = 0xFF5D // Quantization component
	MarkerPOC = 0xFF5F // Progression order change

	// Pointer markers
	MarkerTLM = 0xFF55 // Tile-part lengths
	MarkerPLM = 0xFF57 // Packet length, main header
	MarkerPLT = 0xFF58 // Packet length, tile-part header
	MarkerPPM = 0xFF60 // Packed packet headers, main header
	MarkerPPT = 0xFF61 // Packed packet headers, tile-part header

	// Informational markers
	MarkerCRG = 0xFF63 // Component registration
	MarkerCOM = 0xFF64 // Comment
)

// Format is the container kind of a JPEG 2000 byte stream.
type Format int

const (
	// FormatJ2K is a raw codestream starting with SOC.
	FormatJ2K Format = iota
	// FormatJP2 is a codestream wrapped in the JP2 box structure.
	FormatJP2
)

// String returns the conventional file extension for the format
func (f Format) String() string {
	switch f {
	case FormatJ2K:
		return "j2k"
	case FormatJP2:
		return "jp2"
	default:
		return "unknown"
	}
}

// Valid reports whether f is one of the recognized container kinds
func (f Format) Valid() bool {
	return f == FormatJ2K || f == FormatJP2
}

// ProgressionOrder defines the progression order for JPEG 2000 codestream
type ProgressionOrder byte

const (
	ProgressionLRCP ProgressionOrder = 0 // Layer-Resolution-Component-Position
	ProgressionRLCP ProgressionOrder = 1 // Resolution-Layer-Component-Position
	ProgressionRPCL ProgressionOrder = 2 // Resolution-Position-Component-Layer
	ProgressionPCRL ProgressionOrder = 3 // Position-Component-Resolution-Layer
	ProgressionCPRL ProgressionOrder = 4 // Component-Position-Resolution-Layer
)

// String returns the progression order name
func (p ProgressionOrder) String() string {
	switch p {
	case ProgressionLRCP:
		return "LRCP"
	case ProgressionRLCP:
		return "RLCP"
	case ProgressionRPCL:
		return "RPCL"
	case ProgressionPCRL:
		return "PCRL"
	case ProgressionCPRL:
		return "CPRL"
	default:
		return "Unknown"
	}
}

// CodingStyle flags (ITU-T T.800 Table A.13)
const (
	CodingStylePrecinctsUser = 0x01 // Custom precinct sizes
	CodingStyleSOPMarker     = 0x02 // SOP marker segments used
	CodingStyleEPHMarker     = 0x04 // EPH marker segments used
)

// TransformType identifies the wavelet transform type
type TransformType byte

const (
	TransformIrreversible97 TransformType = 0 // 9/7 irreversible (lossy)
	TransformReversible53   TransformType = 1 // 5/3 reversible (lossless)
)

// ComponentInfo holds component-specific information from SIZ marker
type ComponentInfo struct {
	Precision int  // Bit depth (1-38)
	Signed    bool // True if signed samples
	XRsiz     int  // Horizontal sample separation
	YRsiz     int  // Vertical sample separation
}

// SIZMarker holds image and tile size parameters (ITU-T T.800 A.5.1)
type SIZMarker struct {
	Rsiz       uint16          // Capabilities required
	XSiz       uint32          // Reference grid width
	YSiz       uint32          // Reference grid height
	XOsiz      uint32          // Horizontal offset
	YOsiz      uint32          // Vertical offset
	XTsiz      uint32          // Tile width
	YTsiz      uint32          // Tile height
	XTOsiz     uint32          // Tile horizontal offset
	YTOsiz     uint32          // Tile vertical offset
	Components []ComponentInfo // Per-component info
}

// Width returns the image area width on the reference grid
func (s *SIZMarker) Width() int {
	return int(s.XSiz - s.XOsiz)
}

// Height returns the image area height on the reference grid
func (s *SIZMarker) Height() int {
	return int(s.YSiz - s.YOsiz)
}

// NumXTiles returns the number of tiles horizontally
func (s *SIZMarker) NumXTiles() int {
	return int((s.XSiz - s.XTOsiz + s.XTsiz - 1) / s.XTsiz)
}

// NumYTiles returns the number of tiles vertically
func (s *SIZMarker) NumYTiles() int {
	return int((s.YSiz - s.YTOsiz + s.YTsiz - 1) / s.YTsiz)
}

// NumTiles returns the total number of tiles
func (s *SIZMarker) NumTiles() int {
	return s.NumXTiles() * s.NumYTiles()
}

// CODMarker holds coding style default parameters (ITU-T T.800 A.6.1)
type CODMarker struct {
	Scod               byte             // Coding style
	Progression        ProgressionOrder // Progression order
	NumLayers          uint16           // Number of quality layers
	MCT                byte             // Multiple component transform (0=none, 1=RCT/ICT)
	DecompLevels       byte             // Number of decomposition levels
	CodeBlockWidthExp  byte             // Code-block width exponent (add 2)
	CodeBlockHeightExp byte             // Code-block height exponent (add 2)
	CodeBlockStyle     byte             // Code-block style flags
	Transform          TransformType    // Wavelet transform type
	PrecinctSizes      []byte           // Precinct sizes (if Scod & 0x01)
}

// CodeBlockWidth returns the actual code-block width
func (c *CODMarker) CodeBlockWidth() int {
	return 1 << (c.CodeBlockWidthExp + 2)
}

// CodeBlockHeight returns the actual code-block height
func (c *CODMarker) CodeBlockHeight() int {
	return 1 << (c.CodeBlockHeightExp + 2)
}

// SOTMarker holds tile-part header parameters (ITU-T T.800 A.4.2)
type SOTMarker struct {
	TileIndex    uint16 // Tile index
	TilePartLen  uint32 // Length of tile-part, from the SOT marker to the end of its data
	TilePartIdx  byte   // Tile-part index
	NumTileParts byte   // Number of tile-parts (0 = not specified)
}
