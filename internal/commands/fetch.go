package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaborage/go-retrieval/config"
	"github.com/gaborage/go-retrieval/logger"
	"github.com/gaborage/go-retrieval/retrieval"
)

// FetchOptions holds options for the fetch command.
type FetchOptions struct {
	Timeout      time.Duration
	UserAgent    string
	MaxRedirects int
	Charset      string
	JSON         bool
	Verbose      bool
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand() *cobra.Command {
	opts := &FetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Retrieve a URL once and print the decoded body",
		Long: `Performs a single retrieval with the same redirect, timeout and completeness
rules the daemon applies, and prints the body decoded as text.

Only complete responses (200-205) are printed; anything else is reported as an error.`,
		Example: `  # Print a page
  retrievald fetch https://example.org/feed.xml

  # Print the body together with requested and resolved locations
  retrievald fetch --json https://example.org/feed.xml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, args[0], opts)
		},
	}

	// Flags
	cmd.Flags().DurationVarP(&opts.Timeout, "timeout", "t", retrieval.DefaultTimeout, "Connect and idle read timeout")
	cmd.Flags().StringVarP(&opts.UserAgent, "user-agent", "u", config.DefaultUserAgent, "User-Agent header value")
	cmd.Flags().IntVarP(&opts.MaxRedirects, "max-redirects", "r", retrieval.DefaultMaximumFollowedRedirects, "Maximum redirects to follow")
	cmd.Flags().StringVarP(&opts.Charset, "charset", "c", config.DefaultCharset, "Charset used when the response declares none")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the result with its metadata as JSON")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Log retrieval details to stderr")

	return cmd
}

func runFetch(cmd *cobra.Command, location string, opts *FetchOptions) error {
	if !retrieval.IsSupportedLocation(location) {
		return fmt.Errorf("unsupported location %q: only http and https URLs can be fetched", location)
	}

	level := "error"
	if opts.Verbose {
		level = "debug"
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), level, true)

	dec, err := retrieval.BodyAsStringWithHeaderCharset(opts.Charset)
	if err != nil {
		return err
	}

	transport := retrieval.NewHTTPTransport()
	defer transport.CloseIdleConnections()

	builder := retrieval.NewPromiseBuilder(retrieval.WithMetadata(dec), transport, log)
	if err := builder.WithConfiguration(retrieval.Config{
		Timeout:                  opts.Timeout,
		UserAgent:                opts.UserAgent,
		MaximumFollowedRedirects: opts.MaxRedirects,
	}); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := builder.RequestByGet(ctx, location).Await(ctx)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", location, err)
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if opts.Verbose && result.ResolvedLocation() != result.RequestedLocation() {
		log.Info().
			Str("requested", result.RequestedLocation()).
			Str("resolved", result.ResolvedLocation()).
			Msg("Followed redirects")
	}
	_, err = fmt.Fprint(out, result.Data())
	return err
}
