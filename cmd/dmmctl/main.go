// Command dmmctl drives one or more SCPI bench multimeters over serial.
//
// Usage:
//
//	dmmctl list
//	dmmctl run -config dmmctl.yaml
//	dmmctl run -port /dev/ttyUSB0 [-baud 115200] [-mode VDC] [-rate Slow] [-metrics :9101]
//
// In run mode each line read from stdin is sent as an SCPI command. With
// several meters a line of the form "@<port> <command>" targets one of them,
// otherwise the command goes to every meter. Two directives are understood
// besides plain commands:
//
//	/mode <MODE> [range]   switch function, e.g. "/mode RES 5kOhm"
//	/ranges <MODE>         log the range labels of a function
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/arloliu/go-dmm/dmm"
	"github.com/arloliu/go-dmm/internal/config"
	"github.com/arloliu/go-dmm/logger"
	"github.com/arloliu/go-dmm/metrics"
	"github.com/arloliu/go-dmm/scpi"
	"github.com/arloliu/go-dmm/transport"
	"github.com/prometheus/client_golang/prometheus"
)

var log logger.Logger

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "list":
		err = listPorts(os.Stdout)
	case "run":
		err = run(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "dmmctl:", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: dmmctl list")
	fmt.Fprintln(w, "       dmmctl run [-config file | -port device [flags]]")
}

func listPorts(w io.Writer) error {
	ports, err := transport.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}

	for _, p := range ports {
		fmt.Fprintln(w, p.String())
	}

	return nil
}

func run(args []string) error {
	cfg, err := parseRunFlags(args)
	if err != nil {
		return err
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	level, _ := logger.ParseLevel(cfg.Log.Level)
	log = logger.NewSlog(level, cfg.Log.AddSource)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := dmm.NewManager(ctx, log)
	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)

	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		srv = startMetricsServer(cfg.Metrics, reg)
	}

	for _, m := range cfg.Meters {
		conn, err := mgr.Connect(m.Port, m.Options()...)
		if err != nil {
			_ = mgr.CloseAll()
			return err
		}

		if err := metricsReg.Register(conn); err != nil {
			log.Warn("failed to register metrics", "port", m.Port, "error", err)
		}

		go watch(ctx, conn)
	}

	go readCommands(ctx, os.Stdin, mgr)

	exitSig := make(chan os.Signal, 1)
	signal.Notify(exitSig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	<-exitSig

	log.Info("exit signal received")

	err = mgr.CloseAll()
	for _, m := range cfg.Meters {
		metricsReg.Unregister(m.Port)
	}

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	log.Info("shutdown finished")

	return err
}

func parseRunFlags(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)

	var (
		path     = fs.String("config", "", "YAML configuration file")
		port     = fs.String("port", "", "serial device of a single meter")
		baud     = fs.Int("baud", 0, "baud rate (default 115200)")
		backend  = fs.String("backend", "", "serial backend: auto, poll or portable")
		mode     = fs.String("mode", "", "initial meter mode, e.g. VDC")
		rate     = fs.String("rate", "", "sampling rate: Slow, Medium or Fast")
		debug    = fs.Bool("debug", false, "log every line exchanged with the meter")
		listen   = fs.String("metrics", "", "address of the Prometheus endpoint")
		logLevel = fs.String("log-level", "info", "log level")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *path != "" {
		if *port != "" {
			return nil, errors.New("-config and -port are mutually exclusive")
		}

		return config.Load(*path)
	}

	if *port == "" {
		return nil, errors.New("either -config or -port is required")
	}

	return &config.Config{
		Log:     config.LogConfig{Level: *logLevel},
		Metrics: config.MetricsConfig{Listen: *listen},
		Meters: []config.MeterConfig{{
			Port:    *port,
			Baud:    *baud,
			Backend: *backend,
			Mode:    *mode,
			Rate:    *rate,
			Debug:   *debug,
		}},
	}, nil
}

func startMetricsServer(cfg config.MetricsConfig, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath(), metrics.Handler(g))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("serving metrics", "addr", cfg.Listen, "path", cfg.MetricsPath())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()

	return srv
}

// identityCheckInterval bounds how long a new identity goes unreported when
// the meter sends neither measurements nor mode changes.
const identityCheckInterval = 200 * time.Millisecond

// identityTracker reports every identity once.
type identityTracker struct {
	last string
}

// update records id and reports whether it is a new, non-empty identity.
func (t *identityTracker) update(id string) bool {
	if id == t.last {
		return false
	}
	t.last = id

	return id != ""
}

func watch(ctx context.Context, conn *dmm.Connection) {
	l := log.With("port", conn.Port())

	var ids identityTracker
	ticker := time.NewTicker(identityCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			l.Info("session released")
			return
		case <-ticker.C:
		case v := <-conn.Measurements():
			l.Info("measurement", "value", v)
		case m := <-conn.Modes():
			l.Info("mode changed", "mode", m)
		}

		if id := conn.Identity(); ids.update(id) {
			l.Info("meter identified", "identity", id)
		}
	}
}

func readCommands(ctx context.Context, r io.Reader, mgr *dmm.Manager) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		target, text := splitTarget(scanner.Text())
		if text == "" {
			continue
		}

		if target != "" {
			conn, ok := mgr.Get(target)
			if !ok {
				log.Warn("unknown port", "port", target)
				continue
			}
			handleLine(conn, text)

			continue
		}

		mgr.Range(func(_ string, conn *dmm.Connection) bool {
			handleLine(conn, text)
			return true
		})
	}
}

// handleLine runs a directive ("/mode", "/ranges") or sends text as an SCPI
// command.
func handleLine(conn *dmm.Connection, text string) {
	if !strings.HasPrefix(text, "/") {
		sendCommand(conn, text)
		return
	}

	d, err := parseDirective(text)
	if err != nil {
		log.Error("invalid directive", "line", text, "error", err)
		return
	}

	switch d.name {
	case "mode":
		if err := conn.SetMode(d.mode, d.rangeLabel); err != nil {
			log.Error("failed to set mode", "port", conn.Port(), "mode", d.mode, "error", err)
		}
	case "ranges":
		var model string
		if id, err := scpi.ParseIdentity(conn.Identity()); err == nil {
			model = id.Product()
		}
		log.Info("ranges", "port", conn.Port(), "mode", d.mode, "options", describeRanges(model, d.mode))
	}
}

type directive struct {
	name       string
	mode       scpi.MeterMode
	rangeLabel string
}

// parseDirective parses "/mode <MODE> [range]" and "/ranges <MODE>". The
// range label may contain spaces.
func parseDirective(text string) (directive, error) {
	name, rest, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	modeName, rangeLabel, _ := strings.Cut(strings.TrimSpace(rest), " ")

	d := directive{name: name, rangeLabel: strings.TrimSpace(rangeLabel)}
	switch name {
	case "mode", "ranges":
	default:
		return d, fmt.Errorf("unknown directive %q", name)
	}

	mode, err := scpi.ParseMeterMode(modeName)
	if err != nil {
		return d, err
	}
	d.mode = mode

	if name == "ranges" && d.rangeLabel != "" {
		return d, errors.New("/ranges takes only a mode")
	}

	return d, nil
}

// describeRanges lists the range labels of mode on model, e.g.
// "CONF:RES: auto, 500Ohm, ...".
func describeRanges(model string, mode scpi.MeterMode) string {
	table, ok := scpi.RangeTable(model, mode)
	if !ok {
		return "automatic only"
	}

	labels := make([]string, 0, table.Len())
	for _, opt := range table.Options() {
		labels = append(labels, opt.Label)
	}

	return strings.TrimSpace(table.Prefix()) + ": " + strings.Join(labels, ", ")
}

func sendCommand(conn *dmm.Connection, text string) {
	if err := conn.SendString(text); err != nil {
		log.Error("failed to send command", "port", conn.Port(), "command", text, "error", err)
	}
}

// splitTarget separates an optional "@port" prefix from a command line.
func splitTarget(line string) (target string, text string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "@") {
		return "", line
	}

	target, text, _ = strings.Cut(line[1:], " ")

	return target, strings.TrimSpace(text)
}
