package cmd

import (
	"context"
	"fmt"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"strings"

	"github.com/jpfielding/jp2.go/pkg/jp2"
	"github.com/jpfielding/jp2.go/pkg/jp2/codestream"
	"github.com/jpfielding/jp2.go/pkg/util"
	"github.com/spf13/cobra"
)

// NewEncodeCmd encodes PNG or JPEG input as JPEG 2000
func NewEncodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "encode PNG/JPEG to JPEG 2000",
		Long:  "encodes an image as JP2 or J2K, lossless by default, or with per-layer compression ratios or PSNR targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetString("in")
			out, _ := cmd.Flags().GetString("out")
			format, _ := cmd.Flags().GetString("format")
			resolutions, _ := cmd.Flags().GetInt("resolutions")
			ratios, _ := cmd.Flags().GetFloat64Slice("ratio")
			quality, _ := cmd.Flags().GetFloat64Slice("quality")
			if in == "" && len(args) > 0 {
				in = args[0]
			}
			if in == "" || out == "" {
				return fmt.Errorf("--in and --out are required")
			}
			if format == "" {
				format = strings.TrimPrefix(strings.ToLower(extOf(out)), ".")
			}
			if format == "" {
				format = "jp2"
			}
			f, err := jp2.ParseFormat(format)
			if err != nil {
				return err
			}

			img, err := loadImage(in)
			if err != nil {
				return err
			}
			opts, done := libOptions(cmd)
			defer done()
			enc, err := jp2.NewEncoder(img, opts...)
			if err != nil {
				return err
			}
			if err := enc.SetOutputFormat(f); err != nil {
				return err
			}
			if resolutions > 0 {
				if err := enc.SetNumResolutions(resolutions); err != nil {
					return err
				}
			}
			if len(ratios) > 0 {
				if err := enc.SetCompressionRatio(ratios...); err != nil {
					return err
				}
			}
			if len(quality) > 0 {
				if err := enc.SetVisualQuality(quality...); err != nil {
					return err
				}
			}

			if out == "-" {
				_, err := enc.EncodeTo(cmd.OutOrStdout())
				return err
			}
			if err := enc.EncodeFile(out); err != nil {
				return err
			}
			p := enc.Params()
			slog.InfoContext(ctx, "encoded", "in", in, "out", out,
				"format", p.Format.String(), "resolutions", p.NumResolutions,
				"rate", p.Mode.String(), "layers", p.Layers)
			return nil
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringP("in", "i", "", "PNG or JPEG input path")
	pf.StringP("out", "o", "", "output path, - for stdout")
	pf.String("format", "", "jp2 or j2k (default from the output extension)")
	pf.Int("resolutions", 0, "resolution levels (0 = default)")
	pf.Float64Slice("ratio", nil, "compression ratio per quality layer, e.g. 40,20,10 (1 = lossless)")
	pf.Float64Slice("quality", nil, "PSNR target in dB per quality layer, e.g. 30,40 (0 = lossless)")
	return cmd
}

func extOf(path string) string {
	if i := strings.LastIndexByte(path, '.'); i > strings.LastIndexByte(path, '/') {
		return path[i:]
	}
	return ""
}

// NewRewrapCmd converts between JP2 and J2K containers without re-encoding
func NewRewrapCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewrap",
		Short: "convert between JP2 and J2K containers",
		Long:  "extracts the codestream and writes it raw (j2k) or inside a minimal JP2 box structure (jp2), leaving the entropy-coded data untouched",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetString("in")
			out, _ := cmd.Flags().GetString("out")
			format, _ := cmd.Flags().GetString("format")
			if in == "" || out == "" {
				return fmt.Errorf("--in and --out are required")
			}
			f, err := jp2.ParseFormat(format)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			cs, info, err := codestream.ExtractCodestream(data)
			if err != nil {
				return fmt.Errorf("%w: %w", jp2.ErrFormat, err)
			}
			if err := codestream.CheckTileParts(cs, info.HeaderLength); err != nil {
				return fmt.Errorf("%w: %w", jp2.ErrFormat, err)
			}
			result := cs
			switch {
			case f == jp2.FormatJ2K:
			case info.HasAlpha() && info.PremultipliedAlpha():
				result, err = codestream.WrapJP2Premultiplied(cs)
			default:
				result, err = codestream.WrapJP2(cs, info.HasAlpha())
			}
			if err != nil {
				return err
			}
			if err := util.WriteFileAtomic(out, result, 0o644); err != nil {
				return fmt.Errorf("%w: %w", jp2.ErrWrite, err)
			}
			slog.InfoContext(ctx, "rewrapped", "in", in, "from", info.Format.String(), "to", f.String(), "bytes", len(result))
			return nil
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringP("in", "i", "", "JP2/J2K input path")
	pf.StringP("out", "o", "", "output path")
	pf.String("format", "jp2", "target container (jp2|j2k)")
	return cmd
}
