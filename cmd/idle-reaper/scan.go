package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nixlim/idle-reaper/internal/classify"
	"github.com/nixlim/idle-reaper/internal/config"
	"github.com/nixlim/idle-reaper/internal/policy"
	"github.com/nixlim/idle-reaper/internal/scanner"
)

func newScanCmd(root *rootOptions) *cobra.Command {
	var (
		network bool
		protect []string
	)

	cmd := &cobra.Command{
		Use:   "scan [query]",
		Short: "List processes and whether idle-reaper may terminate them",
		Long: "scan captures the process table once and prints every process whose name, " +
			"executable or command line contains query (all processes when omitted), " +
			"together with its owner, CPU time, memory and protection status.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := config.LoadFrom(root.configPath)
			if err != nil {
				return err
			}
			protected := append(res.Config.Monitor.Protected, protect...)

			reader := scanner.NewDefaultReader(zap.NewNop(), network)
			snaps, err := reader.Capture(cmd.Context())
			if err != nil {
				return err
			}

			var query []string
			if len(args) == 1 {
				query = []string{args[0]}
			}
			writeScan(cmd.OutOrStdout(), filterSnapshots(snaps, query), classify.New(protected), time.Now())
			return nil
		},
	}

	cmd.Flags().BoolVar(&network, "network", false, "count open network connections")
	cmd.Flags().StringSliceVar(&protect, "protect", nil, "extra process names to treat as protected")

	return cmd
}

// filterSnapshots keeps the snapshots matching query and orders them by PID.
func filterSnapshots(snaps []scanner.Snapshot, query []string) []scanner.Snapshot {
	out := make([]scanner.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if policy.Watched(s, query) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

func writeScan(w io.Writer, snaps []scanner.Snapshot, cls policy.Classifier, now time.Time) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No matching processes.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tNAME\tUSER\tCPU\tMEM\tSTARTED\tCONN\tPROTECTED")
	protectedCount := 0
	for _, s := range snaps {
		owner := s.Owner
		if !s.OwnerKnown {
			owner = "?"
		}
		conns := "-"
		if s.Connections != scanner.NoConnections {
			conns = humanize.Comma(int64(s.Connections))
		}
		prot := "no"
		if cls.IsProtected(s) {
			prot = "yes"
			protectedCount++
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.PID,
			truncate(s.Name, 24),
			owner,
			s.CPUTime.Truncate(10*time.Millisecond),
			humanize.Bytes(s.MemoryRSS),
			humanize.RelTime(s.StartedAt, now, "ago", "from now"),
			conns,
			prot,
		)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\n%s processes, %s protected.\n",
		humanize.Comma(int64(len(snaps))), humanize.Comma(int64(protectedCount)))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n-3]) + "..."
}
