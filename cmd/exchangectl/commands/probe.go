package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/karripar/va-hybrid-api/internal/service"
)

func probeCmd() *cobra.Command {
	var (
		timeout      time.Duration
		retryBackoff time.Duration
		maxRedirects int
	)
	cmd := &cobra.Command{
		Use:   "probe URL",
		Short: "Check whether a link is reachable without signing in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog()
			if err != nil {
				return err
			}
			prober := service.NewLinkProber(service.LinkProberConfig{
				Timeout:      timeout,
				RetryBackoff: retryBackoff,
				MaxRedirects: maxRedirects,
			}, nil)

			result := prober.Probe(cmd.Context(), args[0])
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "source:     %s\n", service.ClassifyURL(cat, args[0]))
			fmt.Fprintf(out, "accessible: %t\n", result.Accessible)
			fmt.Fprintf(out, "permission: %s\n", result.Permission)
			if result.StatusCode != nil {
				fmt.Fprintf(out, "status:     %d\n", *result.StatusCode)
			}
			fmt.Fprintf(out, "attempts:   %d\n", result.Attempts)
			fmt.Fprintf(out, "duration:   %s\n", result.Duration.Round(time.Millisecond))
			if result.Err != nil {
				fmt.Fprintf(out, "error:      %v\n", result.Err)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per attempt timeout")
	cmd.Flags().DurationVar(&retryBackoff, "retry-backoff", 500*time.Millisecond, "base delay between attempts")
	cmd.Flags().IntVar(&maxRedirects, "max-redirects", 5, "redirects followed before giving up")
	return cmd
}
