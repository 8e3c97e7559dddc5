// Package snapshot derives the served status summary from stored history
// and caches it with a staleness bound.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazz-dev/statusd/internal/config"
	"github.com/hazz-dev/statusd/internal/storage"
)

// Operational status of a server.
const (
	StatusUnknown     = 0
	StatusDegraded    = 1
	StatusOperational = 2
)

// Day-level uptime indicators.
const (
	UptimeGood     = 0
	UptimeDegraded = 1
)

// GoodUptimeThreshold is the daily uptime value from which a day counts as good.
const GoodUptimeThreshold = 23

// Snapshot is the fully materialized summary served by the read API.
// A Snapshot is shared between readers and must not be modified.
type Snapshot struct {
	Servers []Server `json:"servers"`
}

type Server struct {
	Title      Title      `json:"title"`
	LastUpdate int64      `json:"last_update"`
	Categories []Category `json:"categories"`
}

type Title struct {
	Name          string `json:"name"`
	IsOperational int    `json:"is_operational"`
}

type Category struct {
	Name     string    `json:"name"`
	Services []Service `json:"services"`
}

type Service struct {
	Name        string `json:"name"`
	Info        string `json:"info"`
	DataUptimes []int  `json:"data_uptimes"`
	Status      int    `json:"status"`
}

// UptimeIndicator maps a day's uptime value to its indicator. A day with no
// successes maps to UptimeGood, the same as a fully up day.
func UptimeIndicator(uptime int64) int {
	switch {
	case uptime >= GoodUptimeThreshold:
		return UptimeGood
	case uptime > 0:
		return UptimeDegraded
	default:
		return UptimeGood
	}
}

// OperationalStatus summarizes the latest results of a server's services.
func OperationalStatus(latest []bool) int {
	if len(latest) == 0 {
		return StatusUnknown
	}
	for _, ok := range latest {
		if !ok {
			return StatusDegraded
		}
	}
	return StatusOperational
}

// Build computes a snapshot of servers from r as of now. A service that has
// never been checked is reported as down.
func Build(ctx context.Context, r storage.Reader, servers []config.Server, now time.Time, days int) (*Snapshot, error) {
	ts := now.Unix()
	snap := &Snapshot{Servers: make([]Server, 0, len(servers))}

	for _, srv := range servers {
		var latest []bool
		categories := make([]Category, 0, len(srv.Categories))

		for _, cat := range srv.Categories {
			services := make([]Service, 0, len(cat.Services))
			for _, svc := range cat.Services {
				ok, err := r.LatestStatus(ctx, svc.ID)
				if err != nil && !errors.Is(err, storage.ErrNotFound) {
					return nil, fmt.Errorf("latest status of %q: %w", svc.Name, err)
				}

				history, err := r.FetchHistory(ctx, svc.ID, days, ts)
				if err != nil {
					return nil, fmt.Errorf("history of %q: %w", svc.Name, err)
				}
				uptimes := make([]int, 0, len(history))
				for _, h := range history {
					uptimes = append(uptimes, UptimeIndicator(h.Uptime))
				}

				status := 0
				if ok {
					status = 1
				}
				latest = append(latest, ok)
				services = append(services, Service{
					Name:        svc.Name,
					Info:        svc.Info,
					DataUptimes: uptimes,
					Status:      status,
				})
			}
			categories = append(categories, Category{Name: cat.Name, Services: services})
		}

		snap.Servers = append(snap.Servers, Server{
			Title: Title{
				Name:          srv.Name,
				IsOperational: OperationalStatus(latest),
			},
			LastUpdate: ts,
			Categories: categories,
		})
	}
	return snap, nil
}
