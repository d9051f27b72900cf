package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/jessevdk/go-flags"

	"trafficfeed/internal/api"
	"trafficfeed/internal/config"
	"trafficfeed/internal/logging"
	"trafficfeed/internal/queue"
)

// Version is set at build time via -ldflags.
var Version = "dev"

type globalOptions struct {
	Config string `short:"c" long:"config" env:"TRAFFICFEED_CONFIG" default:"configs/example.yaml" description:"Path to the YAML or JSON config file"`
}

var opts globalOptions

type serveCommand struct {
	Worker bool `long:"worker" description:"Also consume case tasks from Kafka (requires queue.enabled)"`
}

type newCaseCommand struct {
	Args struct {
		Name string `positional-arg-name:"name"`
	} `positional-args:"yes"`
}

type refreshCommand struct {
	Args struct {
		ID string `positional-arg-name:"case-id" required:"true"`
	} `positional-args:"yes"`
}

type casesCommand struct{}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.ShortDescription = "traffic feed ingestion"
	mustAdd(parser.AddCommand("serve", "Run the scheduler, workers and HTTP API", "", &serveCommand{}))
	mustAdd(parser.AddCommand("newcase", "Register a case and provision its tables", "", &newCaseCommand{}))
	mustAdd(parser.AddCommand("refresh", "Run one cycle of a case and print its report", "", &refreshCommand{}))
	mustAdd(parser.AddCommand("cases", "List registered cases", "", &casesCommand{}))

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}
}

func mustAdd(_ *flags.Command, err error) {
	if err != nil {
		panic(err)
	}
}

// start loads the config and wires the app for one command.
func start(ctx context.Context) (*app, error) {
	cfg, err := config.Load(config.ResolvePath(opts.Config))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	return newApp(ctx, cfg, logger)
}

func (c *serveCommand) Execute(_ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := start(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Scheduler.Enabled {
		a.scheduler.Start(ctx)
		defer a.scheduler.Stop()
	}
	if c.Worker {
		if !a.cfg.Queue.Enabled {
			return errors.New("--worker requires queue.enabled")
		}
		queue.StartConsumer(ctx, a.cfg.Queue, a.scheduler, a.logger)
	}
	deps := api.Deps{
		Cases:     a.registry,
		Refresher: a.scheduler,
		Seen:      a.store,
		Stats:     a.stats,
		Incidents: a.incidents,
		Config:    a.cfg,
	}
	if a.external != nil {
		deps.Breaker = a.external
	}
	api.Start(ctx, a.cfg.API, deps, a.logger, Version)

	a.logger.Info("trafficfeed running", "version", Version)
	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

func (c *newCaseCommand) Execute(_ []string) error {
	ctx := context.Background()
	a, err := start(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	created, err := a.registry.Register(ctx, c.Args.Name)
	if created.ID == "" {
		return err
	}
	if err != nil {
		a.logger.Warn("case registered with provisioning errors", "case_id", created.ID, "err", err)
	}
	return printJSON(created)
}

func (c *refreshCommand) Execute(_ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := start(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cs, err := a.registry.Get(ctx, c.Args.ID)
	if err != nil {
		return err
	}
	report, err := a.scheduler.RunNow(ctx, cs)
	if report != nil {
		if perr := printJSON(report); perr != nil {
			return perr
		}
	}
	return err
}

func (c *casesCommand) Execute(_ []string) error {
	ctx := context.Background()
	a, err := start(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	list, err := a.registry.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED")
	for _, cs := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", cs.ID, cs.Name, cs.CreatedDay)
	}
	return tw.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
