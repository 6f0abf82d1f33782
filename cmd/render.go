package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webthumb/internal/thumbnail"
)

type renderOptions struct {
	url     string
	width   int
	height  int
	quality int
	format  string
	base64  bool
	out     string
}

func newRenderCmd() *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render one URL to an image file or stdout",
		Example: `  webthumb render --url example.com --width 400 --height 300 --format jpeg --out thumb.jpeg
  webthumb render --url https://example.com --base64`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRenderCommand(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "", "page to render (scheme defaults to https)")
	f.IntVar(&opts.width, "width", 0, "output width in pixels")
	f.IntVar(&opts.height, "height", 0, "output height in pixels")
	f.IntVar(&opts.quality, "quality", thumbnail.DefaultQuality, "encoder quality, clamped to [1,100]")
	f.StringVar(&opts.format, "format", string(thumbnail.DefaultFormat), "webp, jpeg, jpg or png")
	f.BoolVar(&opts.base64, "base64", false, "print a data URI instead of raw bytes")
	f.StringVarP(&opts.out, "out", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runRenderCommand(cmd *cobra.Command, opts *renderOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	req := opts.request(cmd)
	result, err := appInstance.Generate(cmd.Context(), req)
	if err != nil {
		err = fmt.Errorf("render %s: %w", opts.url, err)
	} else {
		err = opts.write(cmd, req, result)
	}
	if err != nil {
		// Post-run hooks are skipped when RunE fails.
		return errors.Join(err, appInstance.Close(cmd.Context()))
	}
	return nil
}

func (o *renderOptions) write(cmd *cobra.Command, req thumbnail.Request, result thumbnail.Result) error {
	payload := result.Data
	if req.AsBase64 {
		payload = []byte(result.DataURI() + "\n")
	}

	if o.out == "" {
		return writeAll(cmd.OutOrStdout(), payload)
	}
	if err := os.WriteFile(o.out, payload, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", o.out, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%dx%d, %d bytes, %s)\n",
		o.out, result.Width, result.Height, len(result.Data), result.MIMEType)
	return nil
}

// request maps flags onto a thumbnail.Request. Width and height stay unset unless given.
func (o *renderOptions) request(cmd *cobra.Command) thumbnail.Request {
	req := thumbnail.NewRequest(o.url)
	if cmd.Flags().Changed("width") {
		req.Width = thumbnail.IntPtr(o.width)
	}
	if cmd.Flags().Changed("height") {
		req.Height = thumbnail.IntPtr(o.height)
	}
	req.Quality = o.quality
	req.Format = thumbnail.ParseFormat(o.format)
	req.AsBase64 = o.base64
	return req
}

func writeAll(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
