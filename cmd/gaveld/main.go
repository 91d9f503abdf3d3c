// Command gaveld runs the gavel captioning daemon in the foreground.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"gavel/internal/config"
	"gavel/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "path to the gavel config file")
	logLevel := flag.String("log-level", "", "override the configured log level for this run")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gaveld: %v\n", err)
		os.Exit(1)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "gaveld: %v\n", err)
		os.Exit(1)
	}
}
