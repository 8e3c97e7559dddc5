package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/statusd/internal/checker"
	"github.com/hazz-dev/statusd/internal/config"
)

func executeCheck(cmd *cobra.Command, cfg *config.Config) error {
	return runChecks(cmd.Context(), cmd.OutOrStdout(), cfg)
}

// runChecks runs every configured check once, prints a table and fails
// when any service is down. Nothing is written to the database.
func runChecks(ctx context.Context, out io.Writer, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	services := cfg.Services()
	results := make([]checker.CheckResult, len(services))
	var wg sync.WaitGroup

	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc config.Service) {
			defer wg.Done()
			c, err := checker.New(svc, cfg.CheckTimeout.Duration)
			if err != nil {
				results[i] = checker.CheckResult{
					ServiceID:   svc.ID,
					ServiceName: svc.Name,
					Status:      checker.StatusDown,
					Error:       fmt.Sprintf("creating checker: %v", err),
					CheckedAt:   time.Now(),
				}
				return
			}
			results[i] = c.Check(ctx)
		}(i, svc)
	}
	wg.Wait()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSERVICE\tSTATUS\tDURATION\tERROR")
	allUp := true
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			r.ServiceID,
			r.ServiceName,
			r.Status,
			r.Duration.Round(time.Millisecond),
			r.Error,
		)
		if !r.OK() {
			allUp = false
		}
	}
	w.Flush()

	if !allUp {
		return fmt.Errorf("one or more services are down")
	}
	return nil
}
