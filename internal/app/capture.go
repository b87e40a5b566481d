package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/pageid/internal/capture"
	"horse.fit/pageid/internal/cli"
	"horse.fit/pageid/internal/config"
	"horse.fit/pageid/internal/fingerprint"
	"horse.fit/pageid/internal/urlnorm"
)

type captureFlags struct {
	url          *string
	file         *string
	sourceURL    *string
	render       *bool
	controlURL   *string
	nodeLimit    *int
	tokenLimit   *int
	keepFragment *bool
	ignoreParams *string
	timeout      *time.Duration
}

func addCaptureFlags(fs *flag.FlagSet) *captureFlags {
	return &captureFlags{
		url:          fs.String("url", "", "Page URL to fetch and fingerprint"),
		file:         fs.String("file", "", "HTML file to fingerprint instead of fetching (- for stdin)"),
		sourceURL:    fs.String("source-url", "", "URL the HTML was loaded from (defaults to the fetched URL)"),
		render:       fs.Bool("render", false, "Render the page in headless Chrome before capturing"),
		controlURL:   fs.String("control-url", "", "DevTools endpoint of a running browser for --render"),
		nodeLimit:    fs.Int("node-limit", 0, "Nodes sampled per capture (0 uses CAPTURE_NODE_SAMPLE_LIMIT)"),
		tokenLimit:   fs.Int("token-limit", 0, "Text tokens sampled per capture (0 uses CAPTURE_TOKEN_LIMIT)"),
		keepFragment: fs.Bool("keep-fragment", false, "Keep the URL fragment for hash-routed apps"),
		ignoreParams: fs.String("ignore-params", "", "Extra comma-separated query keys to drop; a trailing * matches by prefix"),
		timeout:      fs.Duration("timeout", 30*time.Second, "Fetch or render timeout"),
	}
}

func (f *captureFlags) validate() error {
	hasURL := strings.TrimSpace(*f.url) != ""
	hasFile := strings.TrimSpace(*f.file) != ""
	if hasURL == hasFile {
		return fmt.Errorf("exactly one of --url or --file is required")
	}
	if *f.render && !hasURL {
		return fmt.Errorf("--render requires --url")
	}
	if *f.nodeLimit < 0 || *f.tokenLimit < 0 {
		return fmt.Errorf("--node-limit and --token-limit must be >= 0")
	}
	return nil
}

func (f *captureFlags) options(cfg *config.Config) capture.Options {
	nodeLimit := *f.nodeLimit
	if nodeLimit == 0 {
		nodeLimit = cfg.CaptureNodeSampleLimit
	}
	tokenLimit := *f.tokenLimit
	if tokenLimit == 0 {
		tokenLimit = cfg.CaptureTokenLimit
	}

	normalize := urlnorm.Options{KeepFragment: *f.keepFragment}
	if extra := splitCommaList(*f.ignoreParams); len(extra) > 0 {
		normalize.IgnoredParams = append(urlnorm.DefaultIgnoredParams(), extra...)
	}

	return capture.Options{
		SourceURL:       strings.TrimSpace(*f.sourceURL),
		NodeSampleLimit: nodeLimit,
		TokenLimit:      tokenLimit,
		Normalize:       normalize,
	}
}

func (f *captureFlags) capture(ctx context.Context, cfg *config.Config) (fingerprint.PageIdentity, error) {
	opts := f.options(cfg)

	if path := strings.TrimSpace(*f.file); path != "" {
		raw, err := readInput(path)
		if err != nil {
			return fingerprint.PageIdentity{}, fmt.Errorf("read html: %w", err)
		}
		return capture.CapturePage(ctx, capture.Page{URL: opts.SourceURL, HTML: raw}, opts)
	}

	target := strings.TrimSpace(*f.url)
	var (
		page capture.Page
		err  error
	)
	if *f.render {
		page, err = capture.RenderHTML(ctx, target, capture.RenderOptions{
			ControlURL: strings.TrimSpace(*f.controlURL),
			Timeout:    *f.timeout,
		})
	} else {
		page, err = capture.FetchHTML(ctx, target, capture.FetchOptions{Timeout: *f.timeout})
	}
	if err != nil {
		return fingerprint.PageIdentity{}, err
	}
	return capture.CapturePage(ctx, page, opts)
}

func runCapture(args []string) int {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	flags := addCaptureFlags(fs)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if err := flags.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, logger, err := loadOffline(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	identity, err := flags.capture(context.Background(), cfg)
	if err != nil {
		logger.Error().Err(err).Msg("capture failed")
		fmt.Fprintf(os.Stderr, "Capture failed: %v\n", err)
		return 1
	}

	logger.Debug().
		Str("normalized_url", identity.NormalizedURL).
		Int("layout_tokens", len(identity.LayoutTokens)).
		Int("text_token_sample", identity.TextTokenSample).
		Msg("page captured")

	if err := printJSON(identity); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		return 1
	}
	return 0
}

func splitCommaList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
