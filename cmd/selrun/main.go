// Command selrun loads a SEL rule file and runs it against a stream of
// metric updates read from stdin, or compiles a rule file to its JSON
// execution form.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sourceful/sel/pkg/sel/ast"
	"github.com/sourceful/sel/pkg/sel/compiler"
	"github.com/sourceful/sel/pkg/sel/config"
	"github.com/sourceful/sel/pkg/sel/dispatch"
	"github.com/sourceful/sel/pkg/sel/live"
	"github.com/sourceful/sel/pkg/sel/parser"
	"github.com/sourceful/sel/pkg/sel/runtime"
	"github.com/sourceful/sel/pkg/sel/site"
)

var (
	configPath string
	dryRun     bool
	listenAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "selrun",
		Short: "Run and compile Sourceful Energy Language rule files",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML/TOML/JSON config file")
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log actions instead of delivering them")
	root.PersistentFlags().StringVar(&listenAddr, "listen", "", "address to serve the live websocket feed on (e.g. :8787)")

	root.AddCommand(runCmd(), compileCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file.sel>",
		Short: "Run a rule file against metric updates read from stdin (one JSON object per line)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(args[0])
		},
	}
}

func compileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <file.sel>",
		Short: "Compile a rule file and print its JSON execution form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return compileFile(args[0])
		},
	}
}

func compileFile(path string) error {
	program, err := parseFile(path)
	if err != nil {
		return err
	}
	out, err := compiler.ToJSON(program)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func parseFile(path string) (*ast.Program, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	program, err := parser.Parse(string(source))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return program, nil
}

func runFile(path string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if dryRun {
		cfg.DryRun = true
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	program, err := parseFile(path)
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(dispatch.Config{
		TelegramBotToken: cfg.TelegramBotToken,
		TelegramChatID:   cfg.TelegramChatID,
		DryRun:           cfg.DryRun,
	}, log)

	s := site.New(program, dispatcher, log)

	var hub *live.Hub
	if cfg.ListenAddr != "" {
		hub = live.NewHub(log)
		s.Observe(hub.Publish)
		go hub.Run()

		mux := http.NewServeMux()
		mux.HandleFunc("/ws", hub.HandleWebSocket)
		go func() {
			if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
				log.Error().Err(err).Str("component", "sel-live").Msg("websocket server stopped")
			}
		}()
		log.Info().Str("component", "sel").Str("addr", cfg.ListenAddr).Msg("live event feed listening")
	}

	s.Observe(func(e site.Event) {
		log.Info().Str("component", "sel").Str("kind", e.Kind).Str("rule_id", e.RuleID).Msg("event")
	})

	if err := s.Start(); err != nil {
		return fmt.Errorf("starting site: %w", err)
	}
	defer s.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go feedMetrics(s, log)

	<-stop
	log.Info().Str("component", "sel").Msg("shutting down")
	return nil
}

// feedMetrics reads one JSON object per line from stdin, mapping its keys
// (the seven fixed metric names) onto a MetricValues snapshot for UpdateMetrics.
func feedMetrics(s *site.Site, log zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var raw map[string]float64
		if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
			log.Warn().Str("component", "sel").Err(err).Msg("invalid metric line, skipping")
			continue
		}

		metrics := runtime.NewMetricValues()
		for _, metric := range ast.AllMetrics {
			if v, ok := raw[metric.String()]; ok {
				metrics.Set(metric, v)
			}
		}
		s.UpdateMetrics(metrics)
	}
}
