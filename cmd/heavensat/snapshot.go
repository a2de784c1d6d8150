package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/1valdis/heavensat-web/internal/catalog"
	"github.com/1valdis/heavensat-web/internal/filter"
	"github.com/1valdis/heavensat-web/internal/propagation"
)

// Command-line flags for snapshot
var (
	snapCatalog   string
	snapTime      string
	snapLatitude  float64
	snapLongitude float64
	snapAltitude  float64
	snapUnits     int
	snapFont      string
	snapTimeout   time.Duration
	snapDump      bool
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Propagate a catalog file once and print what is above the horizon",
	Long: `
Run a single propagation round over a local 3LE or OMM JSON catalog for one
observer and instant, then print a summary of the visible satellites.

Examples:
  # What is overhead in Riga right now
  heavensat snapshot --catalog active.txt --lat 56.95 --lon 24.1

  # A fixed instant, with the raw result buffers
  heavensat snapshot --catalog gp.json --time 2024-04-09T12:00:00Z --dump
`,
	Args: cobra.NoArgs,
	RunE: runSnapshot,
}

func init() {
	f := snapshotCmd.Flags()
	f.StringVar(&snapCatalog, "catalog", "", "catalog file (3LE text or OMM JSON)")
	f.StringVar(&snapTime, "time", "", "UTC instant in RFC 3339 (default: now)")
	f.Float64Var(&snapLatitude, "lat", 0, "observer latitude in degrees")
	f.Float64Var(&snapLongitude, "lon", 0, "observer longitude in degrees")
	f.Float64Var(&snapAltitude, "alt", 0, "observer altitude in meters")
	f.IntVar(&snapUnits, "units", propagation.DefaultUnits, "propagation units")
	f.StringVar(&snapFont, "font", "", "font metrics JSON (default: built-in grid)")
	f.DurationVar(&snapTimeout, "timeout", 30*time.Second, "give up after this long")
	f.BoolVar(&snapDump, "dump", false, "dump the aggregated result buffers")
	snapshotCmd.MarkFlagRequired("catalog")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	level := "warn"
	if logLevel != "" {
		level = logLevel
	}
	logger, err := newLogger(level)
	if err != nil {
		return err
	}

	date := time.Now().UTC()
	if snapTime != "" {
		date, err = time.Parse(time.RFC3339, snapTime)
		if err != nil {
			return fmt.Errorf("invalid --time: %w", err)
		}
	}
	if snapLatitude < -90 || snapLatitude > 90 || snapLongitude < -180 || snapLongitude > 180 {
		return fmt.Errorf("observer location %.4f, %.4f out of range", snapLatitude, snapLongitude)
	}

	font, err := loadFont(snapFont)
	if err != nil {
		return fmt.Errorf("loading font metrics: %w", err)
	}
	if font == nil {
		font = defaultFont()
	}

	ds, err := catalog.NewLoader(catalog.NewStore(), nil, nil, logger).LoadFile(snapCatalog)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), snapTimeout)
	defer cancel()

	cp, err := propagation.NewConcurrentPropagator(ctx, ds.Satellites, font, propagation.Config{Units: snapUnits}, logger)
	if err != nil {
		return err
	}
	defer cp.Close()

	loc := propagation.Location{Latitude: snapLatitude, Longitude: snapLongitude, Altitude: snapAltitude}
	start := time.Now()
	cp.Process(date, loc, filter.Default())
	if err := waitRound(ctx, cp); err != nil {
		return err
	}
	elapsed := time.Since(start)

	res := cp.Propagated()
	printSummary(cmd.OutOrStdout(), ds, res.Result, cp, date, loc, elapsed)
	if snapDump {
		spew.Fdump(cmd.OutOrStdout(), res.Result)
	}
	return nil
}

// waitRound blocks until every unit has answered the single outstanding
// request, or one of them has failed.
func waitRound(ctx context.Context, cp *propagation.ConcurrentPropagator) error {
	units := uint64(len(cp.UnitStates()))
	for cp.ResultVersion() < units {
		for _, st := range cp.UnitStates() {
			if st.State == propagation.Failed {
				return fmt.Errorf("propagation unit %d failed", st.Index)
			}
		}
		select {
		case <-cp.Changes():
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return fmt.Errorf("waiting for propagation: %w", ctx.Err())
		}
	}
	return nil
}

func printSummary(w io.Writer, ds *catalog.Dataset, r propagation.Result, cp *propagation.ConcurrentPropagator,
	date time.Time, loc propagation.Location, elapsed time.Duration) {
	fmt.Fprintf(w, "catalog:   %s (%d satellites, epochs %s .. %s)\n",
		ds.Source, len(ds.Satellites),
		ds.EpochRange.Min.Format(time.RFC3339), ds.EpochRange.Max.Format(time.RFC3339))
	fmt.Fprintf(w, "observer:  %.4f, %.4f, %.0f m at %s\n",
		loc.Latitude, loc.Longitude, loc.Altitude, date.Format(time.RFC3339))
	fmt.Fprintf(w, "round:     %s\n", elapsed.Round(time.Microsecond))

	n := r.Len()
	eclipsed := 0
	ids := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, int(r.IDsAndShadow[i*propagation.IntsPerID]))
		if r.IDsAndShadow[i*propagation.IntsPerID+1] != 0 {
			eclipsed++
		}
	}
	sort.Ints(ids)
	fmt.Fprintf(w, "visible:   %d (%d in umbra)\n", n, eclipsed)
	fmt.Fprintf(w, "failed:    %d\n", len(cp.FailedNorads()))
	fmt.Fprintf(w, "dropped:   %d\n", len(cp.DroppedNorads()))

	const maxListed = 20
	for i, id := range ids {
		if i == maxListed {
			fmt.Fprintf(w, "  ... %d more\n", len(ids)-maxListed)
			break
		}
		s := ds.Satellites[id]
		fmt.Fprintf(w, "  %-6s %s\n", s.NoradID, s.Name)
	}
}
