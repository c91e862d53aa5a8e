package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dunamismax/resizeflow/internal/domain"
	"github.com/dunamismax/resizeflow/internal/logging"
	"github.com/dunamismax/resizeflow/internal/pipeline"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type resizeFlags struct {
	algorithm  string
	maxWidth   uint32
	maxHeight  uint32
	scaleRatio float64
	quality    float64
	mimeType   string
	debug      bool
	output     string
	maxPixels  int64
}

func newRootCmd() *cobra.Command {
	var f resizeFlags

	cmd := &cobra.Command{
		Use:   "resize <input>",
		Short: "Resize and re-encode an image file",
		Long: "resize decodes <input> (PNG, JPEG, GIF, WebP, BMP or TIFF), fits it inside\n" +
			"max-width x max-height without upscaling, and writes it in the requested format.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runResize(cmd, args[0], f)
			if err != nil {
				color.New(color.FgRed, color.Bold).Fprintf(cmd.ErrOrStderr(), "error: ")
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.algorithm, "algorithm", "a", string(domain.AlgorithmLanczos3), "resampling filter: "+algorithmNames())
	flags.Uint32VarP(&f.maxWidth, "max-width", "W", 0, "maximum output width in pixels")
	flags.Uint32VarP(&f.maxHeight, "max-height", "H", 0, "maximum output height in pixels")
	flags.Float64Var(&f.scaleRatio, "scale-ratio", 0, "scale by this factor instead of fitting the bounds")
	flags.Float64VarP(&f.quality, "quality", "q", 0, "lossy quality, 1-100 or a fraction in (0,1]")
	flags.StringVarP(&f.mimeType, "mime-type", "t", "image/png", "output mime type")
	flags.BoolVar(&f.debug, "debug", false, "log decode and resize diagnostics")
	flags.StringVarP(&f.output, "output", "o", "", "output file (default: <input>.resized.<ext> next to the input)")
	flags.Int64Var(&f.maxPixels, "max-pixels", pipeline.DefaultMaxPixels, "reject sources or targets above this many pixels")
	_ = cmd.MarkFlagRequired("max-width")
	_ = cmd.MarkFlagRequired("max-height")

	return cmd
}

func algorithmNames() string {
	names := make([]string, 0, len(domain.Algorithms))
	for _, a := range domain.Algorithms {
		names = append(names, string(a))
	}
	return strings.Join(names, ", ")
}

func runResize(cmd *cobra.Command, input string, f resizeFlags) error {
	level := "warn"
	if f.debug {
		level = "info"
	}
	logger, closeLogger, err := logging.New(logging.Config{Level: level, Format: "console", Output: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer func() { _ = closeLogger() }()

	cfg := domain.ResizeConfig{
		Algorithm: domain.ResizeAlgorithm(strings.ToLower(strings.TrimSpace(f.algorithm))),
		MaxWidth:  f.maxWidth,
		MaxHeight: f.maxHeight,
		MimeType:  f.mimeType,
	}
	if !cfg.Algorithm.Valid() {
		return fmt.Errorf("unknown algorithm %q, want one of %s", f.algorithm, algorithmNames())
	}
	if cmd.Flags().Changed("scale-ratio") {
		cfg.ScaleRatio = &f.scaleRatio
	}
	if cmd.Flags().Changed("quality") {
		cfg.Quality = &f.quality
	}
	if f.debug {
		cfg.Debug = &f.debug
	}

	outputDir, outputName := outputLocation(input, f.output, cfg.MimeType)
	processor, err := pipeline.NewLocalProcessor(
		pipeline.NewTranscoder(pipeline.WithLogger(logger), pipeline.WithMaxPixels(f.maxPixels)),
		outputDir,
	)
	if err != nil {
		return err
	}

	out, err := processor.Process(cmd.Context(), pipeline.Request{
		ID:         filepath.Base(input),
		SourceType: pipeline.SourceTypeLocalFile,
		ObjectKey:  input,
		OutputName: outputName,
		Config:     cfg,
	})
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), input, out)
	return nil
}

// outputLocation splits --output into a directory and file name. Without
// --output the file lands next to the input as <stem>.resized.<ext>.
func outputLocation(input, output, mimeType string) (dir, name string) {
	if output != "" {
		return filepath.Dir(output), filepath.Base(output)
	}
	format, _ := pipeline.SelectOutputFormat(mimeType)
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Dir(input), fmt.Sprintf("%s.resized.%s", stem, format.Extension())
}

func printSummary(w io.Writer, input string, out pipeline.Output) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Fprint(w, "resized ")
	bold.Fprint(w, input)
	fmt.Fprintf(w, " (%s %dx%d, %s)", out.SourceFormat, out.SourceWidth, out.SourceHeight, humanize.Bytes(uint64(out.SourceBytes)))
	fmt.Fprint(w, " -> ")
	bold.Fprint(w, out.Path)
	fmt.Fprintf(w, " (%s %dx%d, %s)\n", out.Format, out.Width, out.Height, humanize.Bytes(uint64(out.Bytes)))

	if out.FormatFallback {
		yellow.Fprintln(w, "requested mime type is not supported; wrote png instead")
	}
}
