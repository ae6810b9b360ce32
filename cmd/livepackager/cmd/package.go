package cmd

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/livepackager/pkg/livepackager"
)

// packageFlags collects the packaging options shared by the subcommands.
type packageFlags struct {
	format        string
	trackType     string
	scheme        string
	key           string
	iv            string
	keyID         string
	segmentNumber uint32
	m2tsOffsetMS  int32
	decodeTime    int64
	durationSec   float64
	output        string
}

var pkgFlags packageFlags

func init() {
	rootCmd.AddCommand(packageInitCmd)
	rootCmd.AddCommand(packageCmd)
	rootCmd.AddCommand(packageTextCmd)

	for _, cmd := range []*cobra.Command{packageInitCmd, packageCmd, packageTextCmd} {
		registerPackageFlags(cmd.Flags())
	}
}

func registerPackageFlags(fs *pflag.FlagSet) {
	fs.StringVar(&pkgFlags.format, "format", "fmp4", "output format (fmp4, ts, vttmp4, ttmlmp4, ttml)")
	fs.StringVar(&pkgFlags.trackType, "track-type", "video", "track type (audio, video, text)")
	fs.StringVar(&pkgFlags.scheme, "scheme", "none", "protection scheme (none, sample-aes, aes-128, cbcs, cenc)")
	fs.StringVar(&pkgFlags.key, "key", "", "encryption key (hex)")
	fs.StringVar(&pkgFlags.iv, "iv", "", "encryption IV (hex)")
	fs.StringVar(&pkgFlags.keyID, "key-id", "", "key identifier (hex)")
	fs.Uint32Var(&pkgFlags.segmentNumber, "segment-number", 0, "segment number")
	fs.Int32Var(&pkgFlags.m2tsOffsetMS, "m2ts-offset-ms", 0, "PTS/DTS offset for TS output, in ms")
	fs.Int64Var(&pkgFlags.decodeTime, "text-decode-time", 0, "base decode time for timed-text output")
	fs.Float64Var(&pkgFlags.durationSec, "segment-duration", 0, "segment duration in seconds (advisory)")
	fs.StringVarP(&pkgFlags.output, "output", "o", "", "output file (default stdout)")
}

var packageInitCmd = &cobra.Command{
	Use:   "package-init <init.mp4>",
	Short: "Package an init segment",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		pkg, err := newPackager()
		if err != nil {
			return err
		}
		initSeg, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading init segment: %w", err)
		}

		out := livepackager.NewFullSegmentBuffer()
		if err := pkg.PackageInit(initSeg, out); err != nil {
			return err
		}
		return writeOutput(out.Data())
	},
}

var packageCmd = &cobra.Command{
	Use:   "package <init.mp4> <segment.m4s>",
	Short: "Package a media segment",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		pkg, err := newPackager()
		if err != nil {
			return err
		}
		initSeg, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading init segment: %w", err)
		}
		mediaSeg, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading media segment: %w", err)
		}

		out := livepackager.NewFullSegmentBuffer()
		if err := pkg.Package(initSeg, mediaSeg, out); err != nil {
			return err
		}
		return writeOutput(out.SegmentData())
	},
}

var packageTextCmd = &cobra.Command{
	Use:   "package-text <segment.vtt|segment.ttml>",
	Short: "Package a timed-text segment",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		pkg, err := newPackager()
		if err != nil {
			return err
		}
		seg, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading text segment: %w", err)
		}

		out := livepackager.NewFullSegmentBuffer()
		if err := pkg.PackageTimedText(seg, out); err != nil {
			return err
		}
		return writeOutput(out.Data())
	},
}

// newPackager builds a packager from the CLI flags.
func newPackager() (*livepackager.Packager, error) {
	cfg := livepackager.LiveConfig{
		SegmentNumber:       pkgFlags.segmentNumber,
		M2TSOffsetMS:        pkgFlags.m2tsOffsetMS,
		TimedTextDecodeTime: pkgFlags.decodeTime,
		SegmentDurationSec:  pkgFlags.durationSec,
	}

	switch pkgFlags.format {
	case "fmp4":
		cfg.Format = livepackager.FormatFMP4
	case "ts":
		cfg.Format = livepackager.FormatTS
	case "vttmp4":
		cfg.Format = livepackager.FormatVTTMP4
	case "ttmlmp4":
		cfg.Format = livepackager.FormatTTMLMP4
	case "ttml":
		cfg.Format = livepackager.FormatTTML
	default:
		return nil, fmt.Errorf("unknown format %q", pkgFlags.format)
	}

	switch pkgFlags.trackType {
	case "audio":
		cfg.TrackType = livepackager.TrackAudio
	case "video":
		cfg.TrackType = livepackager.TrackVideo
	case "text":
		cfg.TrackType = livepackager.TrackText
	default:
		return nil, fmt.Errorf("unknown track type %q", pkgFlags.trackType)
	}

	switch pkgFlags.scheme {
	case "none":
		cfg.ProtectionScheme = livepackager.ProtectionNone
	case "sample-aes":
		cfg.ProtectionScheme = livepackager.ProtectionSampleAES
	case "aes-128":
		cfg.ProtectionScheme = livepackager.ProtectionAES128
	case "cbcs":
		cfg.ProtectionScheme = livepackager.ProtectionCBCS
	case "cenc":
		cfg.ProtectionScheme = livepackager.ProtectionCENC
	default:
		return nil, fmt.Errorf("unknown protection scheme %q", pkgFlags.scheme)
	}

	var err error
	if cfg.Key, err = hexField("key", pkgFlags.key); err != nil {
		return nil, err
	}
	if cfg.IV, err = hexField("iv", pkgFlags.iv); err != nil {
		return nil, err
	}
	if cfg.KeyID, err = hexField("key-id", pkgFlags.keyID); err != nil {
		return nil, err
	}

	return livepackager.New(cfg)
}

func hexField(name, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decoding --%s: %w", name, err)
	}
	return b, nil
}

func writeOutput(data []byte) error {
	if pkgFlags.output == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(pkgFlags.output, data, 0o644)
}
