package cmds

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/stagehand/pkg/metrics"
	"github.com/go-go-golems/stagehand/pkg/server"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registered processors over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			h, closeHost, err := newHost(hostSettings{metrics: metrics.NewWithRegistry(reg)})
			if err != nil {
				return err
			}
			defer closeHost()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return server.New(h, server.WithGatherer(reg)).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().String("addr", ":8080", "Address to listen on")
	return cmd
}
