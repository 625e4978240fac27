package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/coastline"
	"github.com/deepnoodle-ai/coastline/amadeus"
	"github.com/deepnoodle-ai/coastline/anthropic"
	"github.com/deepnoodle-ai/coastline/geocode"
	"github.com/deepnoodle-ai/coastline/httpapi"
	"github.com/deepnoodle-ai/coastline/postgres"
	"github.com/deepnoodle-ai/coastline/sqlite"
)

// CLI configuration
type cliConfig struct {
	ConfigFile   string
	Origin       string
	Destinations string
	StartDate    string
	EndDate      string
	Travelers    int
	Budget       float64
	MaxAttempts  int
	Verbose      bool
	JSON         bool
}

func main() {
	config, command := parseFlags()

	appConfig, err := coastline.LoadConfig(config.ConfigFile)
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
	logger := setupLogger(config.Verbose)

	switch command {
	case "plan":
		runPlan(config, appConfig, logger)
	case "budget":
		runBudget(config, appConfig, logger)
	case "serve":
		runServe(config, appConfig, logger)
	default:
		color.Red("Error: unknown command %q", command)
		flag.Usage()
		os.Exit(1)
	}
}

func parseFlags() (*cliConfig, string) {
	config := &cliConfig{}

	flag.StringVar(&config.ConfigFile, "config", "", "Path to the YAML configuration file (optional)")
	flag.StringVar(&config.ConfigFile, "c", "", "Path to the YAML configuration file (shorthand)")

	flag.StringVar(&config.Origin, "origin", "", "Origin city for the trip")
	flag.StringVar(&config.Destinations, "destinations", "", "Comma-separated destination cities")
	flag.StringVar(&config.StartDate, "start", "", "Trip start date (YYYY-MM-DD)")
	flag.StringVar(&config.EndDate, "end", "", "Trip end date (YYYY-MM-DD)")
	flag.IntVar(&config.Travelers, "travelers", 1, "Number of travelers")
	flag.Float64Var(&config.Budget, "budget", 0, "Total budget in USD")
	flag.IntVar(&config.MaxAttempts, "attempts", 0, "Budget command: max replanning attempts (1-10)")

	flag.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&config.Verbose, "v", false, "Enable verbose logging (shorthand)")
	flag.BoolVar(&config.JSON, "json", false, "Output results in JSON format")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Coastline - budget-aware multi-city trip planner

Usage: %s [options] <command>

Commands:
  plan    Plan a trip interactively with approval at the review step
  budget  Replan automatically until the plan fits the budget
  serve   Run the HTTP session API

Examples:
  # Interactive planning
  %s -origin "New York" -destinations "Paris,Rome" -start 2026-09-10 -end 2026-09-20 -budget 4000 plan

  # Automatic budget loop
  %s -origin "New York" -destinations "Tokyo" -start 2026-10-01 -end 2026-10-08 -budget 2500 -attempts 5 budget

  # HTTP API
  %s -config coastline.yaml serve

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	return config, flag.Arg(0)
}

func setupLogger(verbose bool) *slog.Logger {
	if verbose {
		return coastline.NewLogger()
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// app bundles the wired components shared by every command.
type app struct {
	store    coastline.CheckpointStore
	sessions coastline.SessionStore
	engine   *coastline.Engine
	service  *coastline.Service
	bus      *coastline.EventBus
	close    func()
}

func buildApp(appConfig *coastline.Config, logger *slog.Logger) (*app, error) {
	var store coastline.CheckpointStore
	var sessions coastline.SessionStore
	closeFn := func() {}

	switch appConfig.Store.Backend {
	case "sqlite":
		s, err := sqlite.Open(appConfig.Store.Path)
		if err != nil {
			return nil, err
		}
		store = s
		sessions = s.Sessions()
		closeFn = func() { s.Close() }
	case "postgres":
		s, err := postgres.Open(appConfig.Store.DSN)
		if err != nil {
			return nil, err
		}
		store = s
		sessions = s.Sessions()
		closeFn = func() { s.Close() }
	default:
		store = coastline.NewMemoryCheckpointStore()
		sessions = coastline.NewMemorySessionStore()
	}

	generation, err := anthropic.NewFromAPIKey(os.Getenv(appConfig.Generation.APIKeyEnv), anthropic.Options{
		Model:     appConfig.Generation.Model,
		MaxTokens: appConfig.Generation.MaxTokens,
	})
	if err != nil {
		closeFn()
		return nil, fmt.Errorf("generation client: %w", err)
	}
	searcher, err := amadeus.New(amadeus.Options{
		BaseURL:      appConfig.Amadeus.BaseURL,
		ClientID:     os.Getenv(appConfig.Amadeus.ClientIDEnv),
		ClientSecret: os.Getenv(appConfig.Amadeus.ClientSecretEnv),
	})
	if err != nil {
		closeFn()
		return nil, fmt.Errorf("amadeus client: %w", err)
	}
	geocoder, err := geocode.New(geocode.Options{
		BaseURL:   appConfig.Geocode.BaseURL,
		UserAgent: appConfig.Geocode.UserAgent,
	})
	if err != nil {
		closeFn()
		return nil, fmt.Errorf("geocode client: %w", err)
	}

	toolbox, err := coastline.NewToolbox(searcher, searcher, searcher, geocoder)
	if err != nil {
		closeFn()
		return nil, err
	}
	propose, err := coastline.NewProposeNode(generation, nil)
	if err != nil {
		closeFn()
		return nil, err
	}
	tools, err := coastline.NewToolExecuteNode(toolbox, store)
	if err != nil {
		closeFn()
		return nil, err
	}
	auditor, err := coastline.NewAuditor()
	if err != nil {
		closeFn()
		return nil, err
	}
	audit, err := coastline.NewAuditNode(auditor)
	if err != nil {
		closeFn()
		return nil, err
	}

	var stepLogger coastline.StepLogger
	if appConfig.Engine.StepLogDir != "" {
		stepLogger = coastline.NewFileStepLogger(appConfig.Engine.StepLogDir)
	}
	bus := coastline.NewEventBus()
	engine, err := coastline.NewEngine(coastline.EngineOptions{
		Store:         store,
		Propose:       propose,
		Tools:         tools,
		Audit:         audit,
		Review:        coastline.NewReviewNode(),
		Logger:        logger,
		StepLogger:    stepLogger,
		Events:        bus,
		MaxSteps:      appConfig.Engine.MaxSteps,
		StepRetries:   appConfig.Engine.StepRetries,
		RetryBaseWait: appConfig.Engine.RetryBaseWait,
	})
	if err != nil {
		closeFn()
		return nil, err
	}
	service, err := coastline.NewService(coastline.ServiceOptions{
		Engine:   engine,
		Sessions: sessions,
		Store:    store,
		Geocoder: geocoder,
		Logger:   logger,
		Events:   bus,
	})
	if err != nil {
		closeFn()
		return nil, err
	}
	return &app{
		store:    store,
		sessions: sessions,
		engine:   engine,
		service:  service,
		bus:      bus,
		close:    closeFn,
	}, nil
}

func preferencesFromFlags(config *cliConfig) coastline.Preferences {
	var destinations []string
	for _, d := range strings.Split(config.Destinations, ",") {
		if d = strings.TrimSpace(d); d != "" {
			destinations = append(destinations, d)
		}
	}
	return coastline.Preferences{
		Origin:       config.Origin,
		Destinations: destinations,
		StartDate:    config.StartDate,
		EndDate:      config.EndDate,
		Travelers:    config.Travelers,
		BudgetLimit:  config.Budget,
	}
}

func runPlan(config *cliConfig, appConfig *coastline.Config, logger *slog.Logger) {
	a, err := buildApp(appConfig, logger)
	if err != nil {
		log.Fatalf("Failed to set up: %v", err)
	}
	defer a.close()

	prefs := preferencesFromFlags(config)
	ctx := context.Background()

	color.Blue("Planning trip: %s -> %s", prefs.Origin, strings.Join(prefs.Destinations, ", "))
	session, err := a.service.Start(ctx, prefs)
	if err != nil {
		log.Fatalf("Planning failed: %v", err)
	}

	reader := bufio.NewReader(os.Stdin)
	for session.Status == coastline.SessionStatusAwaitingDecision {
		showPreview(session.Preview)
		decision, done := promptDecision(reader)
		if done {
			color.Yellow("Leaving session %s awaiting a decision", session.ID)
			return
		}
		session, err = a.service.Decide(ctx, session.ID, decision)
		if err != nil {
			log.Fatalf("Decision failed: %v", err)
		}
	}
	showSession(session, config.JSON)
}

func runBudget(config *cliConfig, appConfig *coastline.Config, logger *slog.Logger) {
	a, err := buildApp(appConfig, logger)
	if err != nil {
		log.Fatalf("Failed to set up: %v", err)
	}
	defer a.close()

	maxAttempts := config.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = appConfig.Replanner.MaxAttempts
	}
	replanner, err := coastline.NewReplanner(coastline.ReplannerOptions{
		Engine:      a.engine,
		MaxAttempts: maxAttempts,
		CloseEnough: appConfig.Replanner.CloseEnough,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("Failed to set up replanner: %v", err)
	}

	prefs := preferencesFromFlags(config)
	color.Blue("Budget planning: %s -> %s ($%.2f ceiling, %d attempts max)",
		prefs.Origin, strings.Join(prefs.Destinations, ", "), prefs.BudgetLimit, maxAttempts)

	startTime := time.Now()
	outcome, err := replanner.Plan(context.Background(), prefs)
	if err != nil {
		log.Fatalf("Budget planning failed: %v", err)
	}
	color.White("Finished in %v after %d attempt(s)", time.Since(startTime).Round(time.Second), outcome.Attempts)

	if outcome.Verdict == coastline.VerdictUnder {
		color.Green("Plan fits the budget: $%.2f of $%.2f", *outcome.State.TotalCost, prefs.BudgetLimit)
	} else {
		color.Yellow("Best plan is $%.2f over budget", outcome.Shortfall)
	}
	showItinerary(outcome.State.Itinerary, outcome.State.CostBreakdown, config.JSON)
}

func runServe(config *cliConfig, appConfig *coastline.Config, logger *slog.Logger) {
	a, err := buildApp(appConfig, logger)
	if err != nil {
		log.Fatalf("Failed to set up: %v", err)
	}
	defer a.close()

	server, err := httpapi.NewServer(httpapi.Options{
		Service: a.service,
		Bus:     a.bus,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("Failed to set up server: %v", err)
	}

	// Periodic retention sweep.
	go func() {
		ticker := time.NewTicker(appConfig.Server.SweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			swept, err := a.service.ExpireSweep(context.Background(), time.Now())
			if err != nil {
				logger.Error("retention sweep failed", "error", err)
				continue
			}
			if swept > 0 {
				logger.Info("retention sweep", "swept", swept)
			}
		}
	}()

	color.Green("Listening on %s", appConfig.Server.Address)
	if err := http.ListenAndServe(appConfig.Server.Address, server); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func showPreview(preview *coastline.Preview) {
	if preview == nil {
		return
	}
	fmt.Println()
	color.Cyan("Proposed itinerary (revision %d)", preview.RevisionCount)
	if preview.Itinerary != nil {
		color.White("%s", preview.Itinerary.TripTitle)
		for _, day := range preview.Itinerary.Days {
			fmt.Printf("  Day %d", day.DayNumber)
			if day.City != "" {
				fmt.Printf(" - %s", day.City)
			}
			if day.Theme != "" {
				fmt.Printf(" (%s)", day.Theme)
			}
			fmt.Println()
			for _, item := range day.Items {
				fmt.Printf("    %-8s %-40s $%.2f\n", item.Type, item.Title, item.EstimatedCost)
			}
		}
	}
	if preview.CostBreakdown != nil {
		b := preview.CostBreakdown
		fmt.Printf("  Flights $%.2f | Hotels $%.2f | Activities $%.2f\n",
			b.FlightsTotal, b.HotelsTotal, b.ActivitiesTotal)
	}
	if preview.BudgetVerdict == coastline.VerdictOver {
		color.Red("  Total $%.2f exceeds budget $%.2f", preview.TotalCost, preview.BudgetLimit)
	} else {
		color.Green("  Total $%.2f within budget $%.2f", preview.TotalCost, preview.BudgetLimit)
	}
}

// promptDecision reads a decision from the terminal. The second return is
// true when the user wants to quit without deciding.
func promptDecision(reader *bufio.Reader) (coastline.Decision, bool) {
	for {
		fmt.Print("\napprove / revise / quit> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return coastline.Decision{}, true
		}
		switch strings.TrimSpace(strings.ToLower(line)) {
		case "approve", "a":
			return coastline.Decision{Action: coastline.DecisionApprove}, false
		case "revise", "r":
			fmt.Print("feedback> ")
			feedback, _ := reader.ReadString('\n')
			decision := coastline.Decision{
				Action:   coastline.DecisionRevise,
				Feedback: strings.TrimSpace(feedback),
			}
			fmt.Print("new budget (blank to keep)> ")
			raw, _ := reader.ReadString('\n')
			if raw = strings.TrimSpace(raw); raw != "" {
				if budget, err := strconv.ParseFloat(raw, 64); err == nil {
					decision.NewBudget = &budget
				} else {
					color.Red("Ignoring invalid budget %q", raw)
				}
			}
			return decision, false
		case "quit", "q":
			return coastline.Decision{}, true
		default:
			color.Yellow("Please answer approve, revise, or quit")
		}
	}
}

func showSession(session *coastline.Session, asJSON bool) {
	switch session.Status {
	case coastline.SessionStatusComplete:
		color.Green("Trip approved!")
		if session.Result != nil {
			showItinerary(session.Result.Itinerary, session.Result.CostBreakdown, asJSON)
		}
	case coastline.SessionStatusFailed:
		color.Red("Planning failed: %s", session.Error)
		os.Exit(1)
	default:
		color.Yellow("Session %s is %s", session.ID, session.Status)
	}
}

func showItinerary(it *coastline.Itinerary, breakdown *coastline.CostBreakdown, asJSON bool) {
	if it == nil {
		return
	}
	if asJSON {
		out, err := json.MarshalIndent(map[string]any{
			"itinerary":      it,
			"cost_breakdown": breakdown,
		}, "", "  ")
		if err == nil {
			fmt.Println(string(out))
		}
		return
	}
	fmt.Println()
	color.Magenta("%s", it.TripTitle)
	for _, day := range it.Days {
		fmt.Printf("Day %d - %s\n", day.DayNumber, day.City)
		for _, item := range day.Items {
			fmt.Printf("  %-8s %-40s $%.2f\n", item.Type, item.Title, item.EstimatedCost)
		}
	}
	if breakdown != nil {
		color.White("Total: $%.2f (flights $%.2f, hotels $%.2f, activities $%.2f)",
			breakdown.GrandTotal, breakdown.FlightsTotal, breakdown.HotelsTotal, breakdown.ActivitiesTotal)
	}
}
