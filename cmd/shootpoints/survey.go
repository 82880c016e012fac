package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/banshee-data/shootpoints/internal/db"
	"github.com/banshee-data/shootpoints/internal/export"
	"github.com/banshee-data/shootpoints/internal/geometry"
	"github.com/banshee-data/shootpoints/internal/station"
	"github.com/banshee-data/shootpoints/internal/survey"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
	"github.com/banshee-data/shootpoints/internal/units"
)

type statusOutput struct {
	Phase survey.Phase `json:"phase"`
	survey.State
}

func (rt *runtime) statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the survey phase, current session and grouping, and field conditions",
		Action: func(c *cli.Context) error {
			e, err := rt.openEngine(c.Context)
			if err != nil {
				return outputError(err)
			}
			phase, err := e.Phase(c.Context)
			if err != nil {
				return outputError(err)
			}
			return rt.outputJSON(statusOutput{Phase: phase, State: e.Current()})
		},
	}
}

// setupPrompt asks the surveyor to aim before each instrument step.
func (rt *runtime) setupPrompt(ctx context.Context, step string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ans, err := rt.prompt(fmt.Sprintf("Next: %s. Press Enter when ready (q to abort): ", step))
	if err != nil {
		return err
	}
	if strings.EqualFold(ans, "q") {
		return surveyerr.NewValidation("setup aborted by surveyor")
	}
	return nil
}

func (rt *runtime) sessionCmd() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Set up the instrument or end the current setup",
		Subcommands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start a session by azimuth, backsight or resection",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Required: true},
					&cli.StringFlag{Name: "surveyor", Aliases: []string{"s"}, Required: true},
					&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: string(station.ModeAzimuth), Usage: "azimuth|backsight|resection"},
					&cli.Int64Flag{Name: "occupied", Usage: "Occupied station ID (azimuth, backsight)"},
					&cli.StringFlag{Name: "azimuth", Usage: `Landmark azimuth as degrees minutes seconds, e.g. "45 30 15" (azimuth)`},
					&cli.Float64Flag{Name: "ih", Usage: "Instrument height in metres (azimuth, resection)"},
					&cli.Int64Flag{Name: "backsight", Usage: "Backsight station ID (backsight)"},
					&cli.Float64Flag{Name: "prism-height", Usage: "Prism height in metres (backsight, resection)"},
					&cli.Int64Flag{Name: "left", Usage: "Left station ID (resection)"},
					&cli.Int64Flag{Name: "right", Usage: "Right station ID (resection)"},
					&cli.StringFlag{Name: "name", Usage: "Name for the resected station (resection)"},
					&cli.BoolFlag{Name: "no-prompt", Usage: "Do not wait for the surveyor to aim between steps"},
				},
				Action: func(c *cli.Context) error {
					e, err := rt.openEngine(c.Context)
					if err != nil {
						return outputError(err)
					}
					cfg := survey.SessionConfig{
						Label:              c.String("label"),
						Surveyor:           c.String("surveyor"),
						Mode:               station.Mode(strings.ToLower(c.String("mode"))),
						OccupiedStationID:  c.Int64("occupied"),
						Azimuth:            c.String("azimuth"),
						InstrumentHeight:   c.Float64("ih"),
						BacksightStationID: c.Int64("backsight"),
						PrismHeight:        c.Float64("prism-height"),
						LeftStationID:      c.Int64("left"),
						RightStationID:     c.Int64("right"),
						NewStationName:     c.String("name"),
					}
					if !c.Bool("no-prompt") {
						cfg.Prompt = rt.setupPrompt
					}
					sess, err := e.StartSession(c.Context, cfg)
					if err != nil {
						return outputError(err)
					}
					return rt.outputJSON(sess)
				},
			},
			{
				Name:  "end",
				Usage: "End the current session",
				Action: func(c *cli.Context) error {
					e, err := rt.openEngine(c.Context)
					if err != nil {
						return outputError(err)
					}
					if err := e.EndSession(c.Context); err != nil {
						return outputError(err)
					}
					fmt.Fprintln(rt.out, "session ended")
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List all sessions",
				Action: func(c *cli.Context) error {
					store, err := rt.openStore()
					if err != nil {
						return outputError(err)
					}
					sessions, err := store.ListSessions(c.Context)
					if err != nil {
						return outputError(err)
					}
					return rt.outputJSON(sessions)
				},
			},
		},
	}
}

func (rt *runtime) groupingCmd() *cli.Command {
	return &cli.Command{
		Name:  "grouping",
		Usage: "Start a grouping of shots in the current session",
		Subcommands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start a grouping and make it current",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Required: true},
					&cli.StringFlag{Name: "geometry", Aliases: []string{"g"}, Required: true, Usage: "isolated_point|point_cloud|open_polygon|closed_polygon"},
					&cli.Int64Flag{Name: "class", Required: true, Usage: "Class ID"},
					&cli.Int64Flag{Name: "subclass", Required: true, Usage: "Subclass ID"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
				},
				Action: func(c *cli.Context) error {
					kind, err := db.ParseGeometryKind(c.String("geometry"))
					if err != nil {
						return outputError(err)
					}
					e, err := rt.openEngine(c.Context)
					if err != nil {
						return outputError(err)
					}
					g, err := e.StartGrouping(c.Context, survey.GroupingConfig{
						Label:       c.String("label"),
						Geometry:    kind,
						ClassID:     c.Int64("class"),
						SubclassID:  c.Int64("subclass"),
						Description: c.String("description"),
					})
					if err != nil {
						return outputError(err)
					}
					return rt.outputJSON(g)
				},
			},
		},
	}
}

func (rt *runtime) adjustCmd() *cli.Command {
	return &cli.Command{
		Name:  "adjust",
		Usage: "Change the atmosphere or prism offsets used for later shots",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "pressure", Usage: "Air pressure, in the configured pressure unit"},
			&cli.Float64Flag{Name: "temperature", Usage: "Air temperature, in the configured temperature unit"},
			&cli.Float64Flag{Name: "vertical", Usage: "Vertical prism offset in metres (up is positive)"},
			&cli.Float64Flag{Name: "latitude", Usage: "North/south prism offset in metres"},
			&cli.Float64Flag{Name: "longitude", Usage: "East/west prism offset in metres"},
			&cli.Float64Flag{Name: "radial", Usage: "Offset along the line of sight in metres"},
			&cli.Float64Flag{Name: "tangent", Usage: "Offset across the line of sight in metres"},
			&cli.Float64Flag{Name: "wedge", Usage: "Rotational offset in metres"},
			&cli.BoolFlag{Name: "clear-offsets", Usage: "Reset every prism offset to zero first"},
		},
		Action: func(c *cli.Context) error {
			e, err := rt.openEngine(c.Context)
			if err != nil {
				return outputError(err)
			}
			cur := e.Current().Conditions

			var adj survey.Adjustment
			if c.IsSet("pressure") || c.IsSet("temperature") {
				atm := survey.Atmosphere{Pressure: cur.Pressure, Temperature: cur.Temperature}
				if c.IsSet("pressure") {
					atm.Pressure = units.ToMMHg(c.Float64("pressure"), rt.cfg.GetPressureUnit())
				}
				if c.IsSet("temperature") {
					atm.Temperature = units.ToCelsius(c.Float64("temperature"), rt.cfg.GetTemperatureUnit())
				}
				adj.Atmosphere = &atm
			}

			off := cur.Offsets
			if c.Bool("clear-offsets") {
				off = geometry.Offsets{}
			}
			changed := c.Bool("clear-offsets")
			for name, field := range map[string]*float64{
				"vertical":  &off.Vertical,
				"latitude":  &off.Latitude,
				"longitude": &off.Longitude,
				"radial":    &off.Radial,
				"tangent":   &off.Tangent,
				"wedge":     &off.Wedge,
			} {
				if c.IsSet(name) {
					*field = c.Float64(name)
					changed = true
				}
			}
			if changed {
				adj.Offsets = &off
			}

			if err := e.Adjust(c.Context, adj); err != nil {
				return outputError(err)
			}
			return rt.outputJSON(e.Current().Conditions)
		},
	}
}

func (rt *runtime) shootCmd() *cli.Command {
	return &cli.Command{
		Name:  "shoot",
		Usage: "Measure to the prism, show the resolved point and save it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "comment", Usage: "Comment stored with the shot"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Save without asking"},
			&cli.BoolFlag{Name: "no-save", Usage: "Show the shot and discard it"},
		},
		Action: func(c *cli.Context) error {
			e, err := rt.openEngine(c.Context)
			if err != nil {
				return outputError(err)
			}
			shot, err := e.TakeShot(c.Context)
			if err != nil {
				return outputError(err)
			}
			if err := rt.outputJSON(shot); err != nil {
				return err
			}

			save := !c.Bool("no-save")
			if save && !c.Bool("yes") {
				ans, err := rt.prompt("Save this shot? [Y/n] ")
				if err != nil {
					e.DiscardShot()
					return outputError(err)
				}
				save = ans == "" || strings.HasPrefix(strings.ToLower(ans), "y")
			}
			if !save {
				e.DiscardShot()
				fmt.Fprintln(rt.out, "shot discarded")
				return nil
			}

			id, err := e.SaveShot(c.Context, shot, c.String("comment"))
			if err != nil {
				return outputError(err)
			}
			fmt.Fprintf(rt.out, "saved shot %d\n", id)
			return nil
		},
	}
}

func (rt *runtime) exportCmd() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export survey data",
		Subcommands: []*cli.Command{
			{
				Name:  "geojson",
				Usage: "Write a session as a GeoJSON FeatureCollection",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "session", Required: true, Usage: "Session ID"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: `Output file, "-" for stdout (default: a name derived from the session)`},
					&cli.StringFlag{Name: "dir", Value: ".", Usage: "Directory the output file must be written in"},
				},
				Action: func(c *cli.Context) error {
					store, err := rt.openStore()
					if err != nil {
						return outputError(err)
					}
					id := c.Int64("session")
					if c.String("out") == "-" {
						fc, err := export.SessionGeoJSON(c.Context, store, id)
						if err != nil {
							return outputError(err)
						}
						return rt.outputJSON(fc)
					}
					path, err := export.WriteFile(c.Context, store, id, c.String("out"), c.String("dir"))
					if err != nil {
						return outputError(err)
					}
					fmt.Fprintf(rt.out, "wrote %s\n", path)
					return nil
				},
			},
		},
	}
}
