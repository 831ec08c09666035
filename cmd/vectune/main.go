// vectune is the command-line driver for a vectune instance: serve runs
// the HTTP API (bootstrap, search, and batch-step all travel over that
// API rather than as separate CLI verbs), debug prints the default
// Vamana parameters for a given edge degree.
//
// The graceful-shutdown signal handling around serve is carried over
// from the gRPC server's main.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clankpan/vectune/internal/httpapi"
	"github.com/clankpan/vectune/internal/logger"
	"github.com/clankpan/vectune/internal/metrics"
	"github.com/clankpan/vectune/pkg/engine"
	"github.com/clankpan/vectune/pkg/vamana"
)

var (
	port    int
	name    string
	version string
	logLevel string
)

func main() {
	root := &cobra.Command{
		Use:   "vectune",
		Short: "Run and operate a vectune proximity-graph instance",
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, error")

	root.AddCommand(serveCmd())
	root.AddCommand(debugCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for a fresh (Initial) instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.NewLogger(logger.Config{Level: logLevel, Pretty: true})
			met := metrics.NewRegistry()

			eng := engine.New(name, version, engine.Options{
				Log:     *log.GetZerolog(),
				Metrics: met,
				Params:  vamana.Params{},
			})

			srv := httpapi.New(eng, log)

			lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}

			log.LogInstanceStart(port, "in-memory")

			httpServer := &http.Server{Handler: srv.Handler()}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				log.LogInstanceShutdown()
				httpServer.Close()
			}()

			log.LogInstanceReady(port)
			if err := httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP port to listen on")
	cmd.Flags().StringVar(&name, "name", "vectune", "instance name")
	cmd.Flags().StringVar(&version, "version", "dev", "instance version")
	return cmd
}

func debugCmd() *cobra.Command {
	var edgeDegrees int
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Print the default Vamana parameters for a given edge degree",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := vamana.DefaultParams(edgeDegrees)
			fmt.Printf("L=%d R=%d alpha=%.2f\n", p.L, p.R, p.Alpha)
			return nil
		},
	}
	cmd.Flags().IntVar(&edgeDegrees, "edge-degrees", 64, "out-degree bound R")
	return cmd
}
