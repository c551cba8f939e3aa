package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"

	"github.com/jpfielding/jp2.go/pkg/jp2"
	"github.com/jpfielding/jp2.go/pkg/util"
	"github.com/spf13/cobra"
)

// NewDecodeCmd decodes JPEG 2000 into PNG
func NewDecodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "JPEG 2000 decode to PNG",
		Long:  "decodes a JP2/J2K file (or - for stdin) to PNG, optionally at reduced resolution, with fewer quality layers or for a region",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetString("in")
			out, _ := cmd.Flags().GetString("out")
			skip, _ := cmd.Flags().GetInt("skip")
			layers, _ := cmd.Flags().GetInt("layers")
			region, _ := cmd.Flags().GetIntSlice("region")
			noPremul, _ := cmd.Flags().GetBool("no-premultiply")
			if in == "" && len(args) > 0 {
				in = args[0]
			}
			if in == "" || out == "" {
				return fmt.Errorf("--in and --out are required")
			}

			opts, done := libOptions(cmd)
			defer done()
			dec := jp2.NewDecoder(source(cmd, in), opts...)
			if err := dec.SetSkipResolutions(skip); err != nil {
				return err
			}
			if err := dec.SetLayersToDecode(layers); err != nil {
				return err
			}
			if len(region) > 0 {
				if len(region) != 4 {
					return fmt.Errorf("--region wants x0,y0,x1,y1, got %v", region)
				}
				if err := dec.SetRegion(image.Rect(region[0], region[1], region[2], region[3])); err != nil {
					return err
				}
			}
			if noPremul {
				dec.DisablePremultiplication()
			}

			img, err := dec.Decode()
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, img); err != nil {
				return err
			}
			if out == "-" {
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if err := util.WriteFileAtomic(out, buf.Bytes(), 0o644); err != nil {
				return err
			}
			slog.InfoContext(ctx, "decoded",
				"in", in, "out", out,
				"width", img.Width, "height", img.Height,
				"premultiplied", img.IsPremultiplied(),
				"digest", util.PixelDigest(img.Pix))
			return nil
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringP("in", "i", "", "JP2/J2K input path, - for stdin")
	pf.StringP("out", "o", "", "PNG output path, - for stdout")
	pf.Int("skip", 0, "resolution levels to discard")
	pf.Int("layers", 0, "quality layers to decode (0 = all)")
	pf.IntSlice("region", nil, "full-resolution region x0,y0,x1,y1")
	pf.Bool("no-premultiply", false, "keep colour unscaled by alpha")
	return cmd
}

// loadImage reads any registered image format from path
func loadImage(path string) (*jp2.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return jp2.FromImage(src), nil
}
