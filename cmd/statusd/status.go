package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/statusd/internal/config"
	"github.com/hazz-dev/statusd/internal/snapshot"
	"github.com/hazz-dev/statusd/internal/storage"
)

type statusStore interface {
	View(fn func(storage.Reader) error) error
}

var operationalLabels = map[int]string{
	snapshot.StatusUnknown:     "unknown",
	snapshot.StatusDegraded:    "degraded",
	snapshot.StatusOperational: "operational",
}

func executeStatus(cmd *cobra.Command, db statusStore, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	var snap *snapshot.Snapshot
	err := db.View(func(r storage.Reader) error {
		var err error
		snap, err = snapshot.Build(context.Background(), r, cfg.Servers, time.Now(), cfg.HistoryDays)
		return err
	})
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tCATEGORY\tSERVICE\tSTATUS\tHISTORY")
	for _, srv := range snap.Servers {
		fmt.Fprintf(w, "%s\t\t\t%s\t\n", srv.Title.Name, operationalLabels[srv.Title.IsOperational])
		for _, cat := range srv.Categories {
			for _, svc := range cat.Services {
				status := "down"
				if svc.Status == 1 {
					status = "up"
				}
				fmt.Fprintf(w, "\t%s\t%s\t%s\t%s\n", cat.Name, svc.Name, status, historyBar(svc.DataUptimes))
			}
		}
	}
	w.Flush()
	return nil
}

// historyBar renders day indicators oldest first: '+' good, '~' degraded.
func historyBar(uptimes []int) string {
	if len(uptimes) == 0 {
		return "-"
	}
	var b strings.Builder
	for _, u := range uptimes {
		if u == snapshot.UptimeGood {
			b.WriteByte('+')
		} else {
			b.WriteByte('~')
		}
	}
	return b.String()
}
