package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solax-monitor/config"
	"solax-monitor/internal/api"
	"solax-monitor/internal/collector"
	"solax-monitor/internal/inverter"
	"solax-monitor/internal/manager"
	"solax-monitor/internal/metrics"
	"solax-monitor/internal/mqtt"
	"solax-monitor/internal/solax"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "solax-monitor",
		Short: "SolaX inverter monitor",
		Long:  "Polls SolaX Cloud for a fixed set of inverters and serves normalized realtime data",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(testCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the monitoring service",
		Long:  "Start the collector, API server, and MQTT publisher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			client := solax.NewClient(cfg.Solax.BaseURL, cfg.Solax.TokenID, cfg.Solax.Timeout)
			mgr := manager.NewManager(manager.ManagerConfig{HistoryWindow: cfg.History.Window})

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(registry)
			mgr.Subscribe(m.HandleEvent)

			mgr.Subscribe(func(ev manager.Event) {
				switch ev.Kind {
				case manager.EventAlert:
					log.Printf("Alert %s [%s]: %s", ev.AlertType, ev.ID, ev.Message)
				case manager.EventUpdate:
					if verbose {
						log.Printf("Update %s (%s)", ev.DisplayName, ev.InverterID)
					}
				}
			})

			// Create MQTT publisher
			publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
				Broker:      cfg.MQTT.Broker,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				Enabled:     cfg.MQTT.Enabled,
			})
			var mqttStatus api.ConnectionStatus
			if err != nil {
				log.Printf("Warning: MQTT connection failed: %v", err)
			} else {
				if cfg.MQTT.Enabled {
					log.Printf("MQTT connected to %s", cfg.MQTT.Broker)
					mqttStatus = publisher
				}
				mgr.Subscribe(publisher.HandleEvent)
				defer publisher.Close()
			}

			coll := collector.NewCollector(collector.CollectorConfig{
				Fetcher:  client,
				Manager:  mgr,
				Metrics:  m,
				Targets:  targets(cfg),
				Interval: cfg.Collector.Interval,
				Timeout:  cfg.Solax.Timeout,
				Enabled:  cfg.Collector.Enabled,
			})

			// Setup context for graceful shutdown
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				if err := coll.Start(ctx); err != nil {
					log.Printf("Collector error: %v", err)
				}
			}()

			var server *api.Server
			if cfg.API.Enabled {
				server = api.NewServer(api.ServerConfig{
					Port:        cfg.API.Port,
					Manager:     mgr,
					Collector:   coll,
					Raw:         client,
					Gatherer:    registry,
					MQTT:        mqttStatus,
					DistPath:    cfg.API.DistPath,
					PublicPath:  cfg.API.PublicPath,
					CORSOrigins: cfg.API.CORSOrigins,
				})

				go func() {
					if err := server.Start(); err != nil {
						log.Printf("API server error: %v", err)
					}
				}()
			}

			log.Printf("SolaX Monitor started for %d inverter(s). Press Ctrl+C to stop.", len(cfg.Inverters))

			<-sigChan
			log.Println("Shutting down...")
			cancel()

			if server != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := server.Stop(shutdownCtx); err != nil {
					log.Printf("API server shutdown error: %v", err)
				}
				shutdownCancel()
			}
			coll.Stop()

			return nil
		},
	}
}

func readCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read data once from every inverter",
		Long:  "Fetch realtime data for each configured inverter once and print the normalized values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			client := solax.NewClient(cfg.Solax.BaseURL, cfg.Solax.TokenID, cfg.Solax.Timeout)
			mgr := manager.NewManager(manager.ManagerConfig{HistoryWindow: cfg.History.Window})
			coll := collector.NewCollector(collector.CollectorConfig{
				Fetcher: client,
				Manager: mgr,
				Targets: targets(cfg),
				Timeout: cfg.Solax.Timeout,
				Enabled: true,
			})

			coll.CollectOnce(cmd.Context())

			for _, rec := range mgr.Faults() {
				fmt.Fprintf(os.Stderr, "%s (%s): %s\n", rec.DisplayName, rec.InverterID, rec.Message)
			}
			return printViews(cmd.OutOrStdout(), output, mgr.Snapshot())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format (json or yaml)")
	return cmd
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test access to the SolaX API",
		Long:  "Request realtime data for each configured inverter and report the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			client := solax.NewClient(cfg.Solax.BaseURL, cfg.Solax.TokenID, cfg.Solax.Timeout)

			failed := 0
			for _, t := range targets(cfg) {
				fmt.Printf("Testing %s (%s)...\n", t.Name, t.SerialNumber)

				raw, err := client.Fetch(cmd.Context(), t.SerialNumber)
				if err != nil {
					fmt.Printf("  FAILED: %v\n", err)
					failed++
					continue
				}

				r := inverter.Normalize(raw, t.Name)
				fmt.Println("  SUCCESS")
				fmt.Printf("  Inverter SN:   %s\n", r.InverterSerialNumber)
				fmt.Printf("  Type:          %s\n", r.InverterType)
				fmt.Printf("  Status:        %s (%s)\n", inverter.StatusName(r.OperatingStatus), r.OperatingStatus)
				fmt.Printf("  Uploaded:      %s\n", r.UploadTime)
				fmt.Printf("  PV Power:      %.0f W\n", r.TotalPVPower())
				fmt.Printf("  AC Power:      %.0f W\n", r.ACPower)
				fmt.Printf("  Load:          %.0f W\n", r.EstimatedLoad())
				fmt.Printf("  Battery:       %.0f%% (%s)\n", r.StateOfCharge, r.BatteryStatus())
				fmt.Printf("  Yield Today:   %.1f kWh\n", r.YieldToday)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d inverter(s) failed", failed, len(cfg.Inverters))
			}
			return nil
		},
	}
}

func targets(cfg *config.Config) []collector.Target {
	out := make([]collector.Target, 0, len(cfg.Inverters))
	for _, inv := range cfg.Inverters {
		out = append(out, collector.Target{SerialNumber: inv.SerialNumber, Name: inv.Name})
	}
	return out
}

func printViews(w io.Writer, format string, views []manager.View) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(views)
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
