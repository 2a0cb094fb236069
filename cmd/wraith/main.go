// Package main is the CLI entry point for the wraith crawl service.
//
// Wraith pairs a bounded agent loop with an escalating web-crawl pipeline:
// plain HTTP, then a warm headless browser, then anti-bot challenge
// resolution, then screenshot-and-vision extraction. Nodes can join a
// shared-secret mesh and route tool calls to whichever peer has free
// browser capacity.
//
// Start the server:
//
//	wraith serve
//
// Configuration comes from WRAITH_* environment variables with an optional
// YAML file named by WRAITH_CONFIG_FILE.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "wraith",
		Short:         "Agentic web crawling service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("wraith", version)
		},
	}
}
