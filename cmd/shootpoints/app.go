package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/banshee-data/shootpoints/internal/config"
	"github.com/banshee-data/shootpoints/internal/db"
	"github.com/banshee-data/shootpoints/internal/monitoring"
	"github.com/banshee-data/shootpoints/internal/survey"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
	"github.com/banshee-data/shootpoints/internal/totalstation"
	"github.com/banshee-data/shootpoints/internal/version"
)

// runtime holds what a command opens lazily: the config from the global
// flags, the database and the instrument.
type runtime struct {
	cfg     *config.SurveyConfig
	out     io.Writer
	in      *bufio.Reader
	metrics *monitoring.Metrics

	store  *db.DB
	inst   totalstation.Instrument
	engine *survey.Engine
}

// newApp creates the CLI application with all commands.
func newApp(in io.Reader, out io.Writer) *cli.App {
	rt := &runtime{out: out, in: bufio.NewReader(in)}
	app := &cli.App{
		Name:    "shootpoints",
		Usage:   "Total station survey recorder",
		Version: version.String(),
		Reader:  in,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "JSON config file", EnvVars: []string{"SHOOTPOINTS_CONFIG"}},
			&cli.StringFlag{Name: "db", Usage: "SQLite database path (overrides config)"},
			&cli.StringFlag{Name: "port", Aliases: []string{"p"}, Usage: `Serial device, or "demo" for the simulator (overrides config)`},
			&cli.StringFlag{Name: "model", Usage: "Instrument model slug (overrides config)"},
			&cli.StringFlag{Name: "simulator-delay", Usage: "Simulated measurement time, e.g. 500ms (overrides config)"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Suppress diagnostic logging"},
		},
		Before: rt.before,
		After:  rt.close,
		Commands: []*cli.Command{
			rt.migrateCmd(),
			rt.siteCmd(),
			rt.stationCmd(),
			rt.classCmd(),
			rt.subclassCmd(),
			rt.modelsCmd(),
			rt.statusCmd(),
			rt.sessionCmd(),
			rt.groupingCmd(),
			rt.adjustCmd(),
			rt.shootCmd(),
			rt.exportCmd(),
			rt.serveCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// before loads the config file and environment, then applies the global
// flag overrides.
func (rt *runtime) before(c *cli.Context) error {
	if c.Bool("quiet") {
		monitoring.SetLogger(nil)
	}
	cfg, err := config.LoadWithEnv(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	for flag, field := range map[string]**string{
		"db":              &cfg.DBPath,
		"port":            &cfg.Port,
		"model":           &cfg.Model,
		"simulator-delay": &cfg.SimulatorDelay,
	} {
		if c.IsSet(flag) {
			v := c.String(flag)
			*field = &v
		}
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtime) close(*cli.Context) error {
	var errs []error
	if rt.inst != nil {
		errs = append(errs, rt.inst.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	return errors.Join(errs...)
}

// openStore opens the database, applying any pending migrations.
func (rt *runtime) openStore() (*db.DB, error) {
	if rt.store != nil {
		return rt.store, nil
	}
	store, err := db.Open(rt.cfg.GetDBPath())
	if err != nil {
		return nil, err
	}
	rt.store = store
	return store, nil
}

// openEngine connects the instrument and restores the survey state left by
// the previous command.
func (rt *runtime) openEngine(ctx context.Context) (*survey.Engine, error) {
	if rt.engine != nil {
		return rt.engine, nil
	}
	store, err := rt.openStore()
	if err != nil {
		return nil, err
	}

	sim := totalstation.DefaultSimulatorConfig()
	sim.Delay = rt.cfg.GetSimulatorDelay()
	inst, err := totalstation.Open(totalstation.PortConfig{
		Port:        rt.cfg.GetPort(),
		Model:       rt.cfg.GetModel(),
		PortOptions: rt.cfg.PortOptions(),
	}, totalstation.Deps{Metrics: rt.metrics, Simulator: sim})
	if err != nil {
		return nil, err
	}
	rt.inst = inst

	cond := survey.DefaultConditions()
	cond.Pressure, cond.Temperature = rt.cfg.GetPressure(), rt.cfg.GetTemperature()
	e := survey.New(store, inst, survey.Options{
		MeasureTimeout:   rt.cfg.GetMeasureTimeout(),
		BacksightLimitCM: rt.cfg.GetBacksightLimitCM(),
		Conditions:       &cond,
		Metrics:          rt.metrics,
	})
	if err := e.Restore(ctx); err != nil {
		return nil, err
	}
	rt.engine = e
	return e, nil
}

// prompt writes msg and reads one line of input.
func (rt *runtime) prompt(msg string) (string, error) {
	fmt.Fprint(rt.out, msg)
	line, err := rt.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", surveyerr.NewValidation("no input")
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// outputJSON writes v to the app's output as indented JSON.
func (rt *runtime) outputJSON(v any) error {
	enc := json.NewEncoder(rt.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats err for the terminal, tagging survey errors with
// their code.
func outputError(err error) error {
	var se *surveyerr.Error
	if errors.As(err, &se) {
		msg := se.Message
		if se.Err != nil {
			msg += ": " + se.Err.Error()
		}
		return cli.Exit(fmt.Sprintf("[%s] %s", se.Code, msg), 1)
	}
	return cli.Exit(err.Error(), 1)
}
