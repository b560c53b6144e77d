package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(baseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the server's dashboard JSON in human-readable form",
		RunE: func(cmd *cobra.Command, args []string) error {
			var s statusView
			if err := newAPIClient(*baseURL).get(cmd.Context(), "/status", &s); err != nil {
				return err
			}
			printStatus(s)
			return nil
		},
	}
}

func newHealthCmd(baseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether the server is up and its pool is ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			var h healthView
			if err := newAPIClient(*baseURL).get(cmd.Context(), "/health", &h); err != nil {
				return err
			}
			fmt.Printf("status=%s pool_ready=%t uptime=%s\n", h.Status, h.PoolReady, time.Duration(h.UptimeMS)*time.Millisecond)
			return nil
		},
	}
}

func printStatus(s statusView) {
	fmt.Printf("status:          %s\n", s.Status)
	fmt.Printf("uptime:          %s\n", time.Duration(s.UptimeMS)*time.Millisecond)
	fmt.Printf("model:           %s\n", s.ModelID)
	fmt.Printf("pool ready:      %t\n", s.PoolReady)
	fmt.Printf("workers:         %d\n", s.WorkerCount)
	fmt.Printf("queue depth:     %d\n", s.QueueDepth)
	fmt.Printf("cache:           %d / %d live\n", s.CacheLiveCount, s.CacheCapacity)
	fmt.Printf("clients:         %d\n", s.TotalClients)
	fmt.Printf("shutdown state:  %s\n", s.ShutdownState)
}
