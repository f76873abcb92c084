package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jonathan/genome-harvester/internal/server"
)

var (
	serveConfigPath string
	servePort       int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes REST endpoints for submitting and tracking harvest jobs.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.json file (environment variables take priority)")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}

	port := servePort
	if !cmd.Flags().Changed("port") && cfg.Port != "" {
		p, err := strconv.Atoi(cfg.Port)
		if err != nil || p < 1 || p > 65535 {
			return fmt.Errorf("invalid port %q", cfg.Port)
		}
		port = p
	}

	registry := prometheus.NewRegistry()
	eng, archive, err := buildEngine(context.Background(), cfg, registry)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{Port: port}, eng, registry, archive)
	return srv.Start()
}
