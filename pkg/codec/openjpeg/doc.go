// Package openjpeg adapts libopenjp2 to the codec contract through cgo. It
// is compiled only with -tags openjpeg and cgo enabled, and needs the
// library visible to pkg-config.
//
// Decoding honours resolution reduction, the quality layer count and the
// decode window natively. Encoding maps compression ratios onto OpenJPEG's
// per-layer rate allocation and PSNR targets onto its fixed-quality mode.
package openjpeg
