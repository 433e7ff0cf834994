package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/matthiasnowak/villasnode"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "nodes":
		err = nodesCommand()
	case "hooks":
		err = hooksCommand()
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("villas-node %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "./etc/node.yaml", "Path to node configuration file")
	httpAddr := fs.String("http", "", "Override http.addr of the configuration")
	verbose := fs.BoolP("verbose", "v", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []villasnode.RuntimeOption{villasnode.WithLogger(logger)}
	if fs.Changed("http") {
		opts = append(opts, villasnode.WithHTTPAddr(*httpAddr))
	}
	flow, err := villasnode.Conf(*cfgPath, villasnode.WithFlowOptions(opts...))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := pflag.NewFlagSet("validate", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "./etc/node.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := villasnode.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good: %d nodes, %d paths\n", *cfgPath, len(cfg.Nodes), len(cfg.Paths))
	return nil
}

func statsCommand(args []string) error {
	fs := pflag.NewFlagSet("stats", pflag.ExitOnError)
	url := fs.StringP("url", "u", "http://localhost:8080", "Base URL of the node's control plane")
	interval := fs.DurationP("interval", "i", 2*time.Second, "Refresh interval")
	once := fs.Bool("once", false, "Print a single snapshot and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	endpoint := strings.TrimSuffix(*url, "/") + "/api/v1/paths"
	if *once {
		return printPathStats(endpoint)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming path stats from %s (Ctrl+C to stop)\n", endpoint)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printPathStats(endpoint); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printPathStats(url string) error {
	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var paths []villasnode.PathStats
	if err := json.NewDecoder(resp.Body).Decode(&paths); err != nil {
		return err
	}

	fmt.Printf("[%s]\n", time.Now().Format(time.RFC3339))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSTATE\tRECEIVED\tWRITTEN\tSKIPPED\tLOST\tOVERFLOW\tQUEUE")
	for _, p := range paths {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			p.Name, p.State, p.Received, p.Written, p.Skipped, p.Lost, p.Overflow, p.QueueLength)
	}
	return w.Flush()
}

func nodesCommand() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tCAPABILITIES\tDESCRIPTION")
	for _, f := range villasnode.BuiltinRegistry().Nodes() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, f.Flags, f.Description)
	}
	return w.Flush()
}

func hooksCommand() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tATTACH\tDESCRIPTION")
	for _, f := range villasnode.BuiltinRegistry().Hooks() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, f.Flags, f.Description)
	}
	return w.Flush()
}

func printUsage() {
	fmt.Printf(`villas-node

Usage:
  villas-node <command> [flags]

Commands:
  run        Start all nodes and paths of the provided config
  validate   Load and validate a config file without starting anything
  stats      Poll the control plane and print per-path counters
  nodes      List the available node types
  hooks      List the available hook types

Examples:
  villas-node run -c ./etc/node.yaml
  villas-node validate -c ./etc/node.yaml
  villas-node stats -u http://localhost:8080 -i 1s
`)
}
