package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jpfielding/jp2.go/pkg/codec"
	"github.com/jpfielding/jp2.go/pkg/jp2"
	"github.com/jpfielding/jp2.go/pkg/logging"
	"github.com/jpfielding/jp2.go/pkg/util"
	"github.com/spf13/cobra"
)

func NewRoot(ctx context.Context, gitsha string) *cobra.Command {
	var closers []io.Closer
	cmd := &cobra.Command{
		Use:   "jp2ctl",
		Short: "a CLI to inspect, decode and encode JPEG 2000",
		Long:  "jp2ctl reads JP2/J2K headers, decodes at reduced resolution, layer count or region, and encodes with ratio or quality rate control",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logLevel, _ := cmd.Flags().GetString("log-level")
			logJSON, _ := cmd.Flags().GetBool("log-json")
			logFile, _ := cmd.Flags().GetString("log-file")

			var level slog.Level
			levelErr := level.UnmarshalText([]byte(strings.ToUpper(logLevel)))
			if levelErr != nil {
				level = slog.LevelInfo
			}
			var out io.Writer = os.Stderr
			if logFile != "" {
				maxSize, _ := cmd.Flags().GetInt("log-max-size")
				backups, _ := cmd.Flags().GetInt("log-max-backups")
				age, _ := cmd.Flags().GetInt("log-max-age")
				w := logging.RotatingWriter(logging.Rotation{
					Path:       logFile,
					MaxSizeMB:  maxSize,
					MaxBackups: backups,
					MaxAgeDays: age,
					Compress:   true,
				})
				closers = append(closers, w)
				out = w
			}
			slog.SetDefault(logging.Logger(out, logJSON, level))
			if levelErr != nil {
				slog.WarnContext(ctx, "Invalid log level, defaulting to INFO", "level", logLevel, "error", levelErr)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			for _, c := range closers {
				c.Close()
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			printCommandTree(cmd.OutOrStdout(), cmd, 0)
		},
	}
	cmd.AddCommand(
		NewVersionCmd(ctx, gitsha),
		NewSniffCmd(ctx),
		NewInfoCmd(ctx),
		NewDecodeCmd(ctx),
		NewEncodeCmd(ctx),
		NewRewrapCmd(ctx),
	)
	pf := cmd.PersistentFlags()
	pf.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.Bool("log-json", false, "log as JSON")
	pf.String("log-file", "", "log to a rotated file instead of stderr")
	pf.Int("log-max-size", 50, "log file size in MB before rotation")
	pf.Int("log-max-backups", 3, "rotated log files to keep")
	pf.Int("log-max-age", 28, "days to keep rotated log files")
	pf.Int("sessions", 0, "codec sessions to pool (0 = fresh session per call)")
	return cmd
}

func printCommandTree(w io.Writer, cmd *cobra.Command, indent int) {
	fmt.Fprintln(w, strings.Repeat("\t", indent), cmd.Use+":", cmd.Short)
	for _, subCmd := range cmd.Commands() {
		printCommandTree(w, subCmd, indent+1)
	}
}

func NewVersionCmd(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "git sha for this build",
		Long:  "git sha for this build",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), gitsha)
		},
	}
	return cmd
}

// newCodec supplies the engine behind decode and encode
var newCodec = jp2.DefaultCodec

// libOptions builds the library options shared by the codec commands
func libOptions(cmd *cobra.Command) ([]jp2.Option, func()) {
	sessions, _ := cmd.Flags().GetInt("sessions")
	c := newCodec()
	slog.Debug("codec", "engine", c.Name(), "sessions", sessions)
	g := codec.NewGuard(c, max(sessions, 0))
	return []jp2.Option{jp2.WithLogger(slog.Default()), jp2.WithGuard(g)}, func() { g.Close() }
}

// source maps "-" to stdin and anything else to a file
func source(cmd *cobra.Command, path string) *jp2.Source {
	if path == "-" {
		return jp2.FromReader(cmd.InOrStdin())
	}
	return jp2.FromFile(strings.TrimPrefix(path, "file://"))
}

// NewSniffCmd reports which files carry a JPEG 2000 signature
func NewSniffCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sniff FILE...",
		Short: "detect JP2/J2K signatures",
		Long:  "prints jp2, j2k or no for each file, reading only its first 12 bytes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				result := "no"
				lead, err := readLead(path, 12)
				if err != nil {
					slog.WarnContext(ctx, "sniff failed", "path", path, "error", err)
				} else if f, ok := jp2.DetectFormat(lead); ok {
					result = f.String()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, result)
			}
			return nil
		},
	}
	return cmd
}

func readLead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	return buf[:read], err
}

// NewInfoCmd prints the header of an encoded image
func NewInfoCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info FILE",
		Short: "print JPEG 2000 header fields",
		Long:  "prints width, height, alpha, resolution and quality layer counts without decoding tile data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hdr, err := jp2.ReadHeader(source(cmd, args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format, _ := cmd.Flags().GetString("format"); format {
			case "json":
				j, err := json.Marshal(struct {
					jp2.Header
					Container string `json:"format"`
				}{hdr, hdr.Format.String()})
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(j))
			default:
				fmt.Fprintf(out, "Format: %s\n", hdr.Format)
				fmt.Fprintf(out, "Size: %dx%d\n", hdr.Width, hdr.Height)
				fmt.Fprintf(out, "Components: %d (%d-bit)\n", hdr.NumComponents, hdr.Precision)
				if hdr.PremultipliedAlpha {
					fmt.Fprintln(out, "Alpha: true (premultiplied)")
				} else {
					fmt.Fprintf(out, "Alpha: %t\n", hdr.HasAlpha)
				}
				fmt.Fprintf(out, "Resolutions: %d\n", hdr.NumResolutions)
				fmt.Fprintf(out, "Quality layers: %d\n", hdr.NumQualityLayers)
				for s := 1; s < hdr.NumResolutions; s++ {
					w, h := jp2.ReducedSize(hdr.Width, hdr.Height, s)
					fmt.Fprintf(out, "  skip %d: %dx%d\n", s, w, h)
				}
			}
			if args[0] != "-" {
				if data, err := os.ReadFile(args[0]); err == nil {
					slog.DebugContext(ctx, "info", "md5", util.Md5ThenHex(data), "id", util.ContentUUID(data))
				}
			}
			return nil
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringP("format", "f", "text", "output format (text|json)")
	return cmd
}
