package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/banshee-data/shootpoints/internal/db"
	"github.com/banshee-data/shootpoints/internal/serialmux"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
	"github.com/banshee-data/shootpoints/internal/totalstation"
)

// migrateCmd manages the schema. Other commands migrate up on open; these
// subcommands work on a database opened without migrating.
func (rt *runtime) migrateCmd() *cli.Command {
	withDB := func(fn func(c *cli.Context, store *db.DB) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			store, err := db.OpenDB(rt.cfg.GetDBPath())
			if err != nil {
				return outputError(err)
			}
			defer store.Close()
			if err := fn(c, store); err != nil {
				return outputError(err)
			}
			return nil
		}
	}
	status := func(c *cli.Context, store *db.DB) error {
		migrations, err := db.MigrationsFS()
		if err != nil {
			return err
		}
		v, dirty, err := store.MigrateVersion(migrations)
		if err != nil {
			return err
		}
		latest, err := db.LatestMigration(migrations)
		if err != nil {
			return err
		}
		fmt.Fprintf(rt.out, "Current version: %d\nLatest version: %d\nDirty: %v\n", v, latest, dirty)
		if dirty {
			fmt.Fprintln(rt.out, "A migration failed part way. Inspect the database, then run: shootpoints migrate force <version>")
		}
		return nil
	}

	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: withDB(func(c *cli.Context, store *db.DB) error {
					migrations, err := db.MigrationsFS()
					if err != nil {
						return err
					}
					if err := store.MigrateUp(migrations); err != nil {
						return err
					}
					return status(c, store)
				}),
			},
			{
				Name:  "down",
				Usage: "Roll back the most recent migration",
				Action: withDB(func(c *cli.Context, store *db.DB) error {
					migrations, err := db.MigrationsFS()
					if err != nil {
						return err
					}
					if err := store.MigrateDown(migrations); err != nil {
						return err
					}
					return status(c, store)
				}),
			},
			{
				Name:   "status",
				Usage:  "Show the schema version",
				Action: withDB(status),
			},
			{
				Name:      "force",
				Usage:     "Record a version without running it (recovery only)",
				ArgsUsage: "<version>",
				Action: withDB(func(c *cli.Context, store *db.DB) error {
					v, err := strconv.Atoi(c.Args().First())
					if err != nil {
						return surveyerr.NewValidation("invalid version %q", c.Args().First())
					}
					migrations, err := db.MigrationsFS()
					if err != nil {
						return err
					}
					if err := store.MigrateForce(migrations, v); err != nil {
						return err
					}
					return status(c, store)
				}),
			},
		},
	}
}

// optional returns a pointer to the flag's value, or nil when it is unset.
func optional(c *cli.Context, name string) *string {
	if !c.IsSet(name) {
		return nil
	}
	v := c.String(name)
	return &v
}

// deleteCmd removes one record by ID. Records still in use are refused
// with a conflict.
func (rt *runtime) deleteCmd(kind string, del func(*db.DB, context.Context, int64) error) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a " + kind + " nothing refers to",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil || id <= 0 {
				return outputError(surveyerr.NewValidation("invalid %s id %q", kind, c.Args().First()))
			}
			store, err := rt.openStore()
			if err != nil {
				return outputError(err)
			}
			if err := del(store, c.Context, id); err != nil {
				return outputError(err)
			}
			fmt.Fprintf(rt.out, "deleted %s %d\n", kind, id)
			return nil
		},
	}
}

func (rt *runtime) siteCmd() *cli.Command {
	return &cli.Command{
		Name:  "site",
		Usage: "Manage survey sites",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Create a site",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
				},
				Action: func(c *cli.Context) error {
					store, err := rt.openStore()
					if err != nil {
						return outputError(err)
					}
					site := &db.Site{Name: c.Args().First(), Description: optional(c, "description")}
					if err := store.CreateSite(c.Context, site); err != nil {
						return outputError(err)
					}
					return rt.outputJSON(site)
				},
			},
			{
				Name:  "list",
				Usage: "List sites",
				Action: func(c *cli.Context) error {
					store, err := rt.openStore()
					if err != nil {
						return outputError(err)
					}
					sites, err := store.ListSites(c.Context)
					if err != nil {
						return outputError(err)
					}
					return rt.outputJSON(sites)
				},
			},
			rt.deleteCmd("site", (*db.DB).DeleteSite),
		},
	}
}

func (rt *runtime) stationCmd() *cli.Command {
	return &cli.Command{
		Name:  "station",
		Usage: "Manage survey stations",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Create a station from site grid, UTM or latitude/longitude coordinates",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "site", Required: true, Usage: "Site ID"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
					&cli.StringFlag{Name: "system", Value: string(db.SystemSite), Usage: "Coordinate system: site|utm|latlon"},
					&cli.Float64Flag{Name: "northing", Aliases: []string{"N"}},
					&cli.Float64Flag{Name: "easting", Aliases: []string{"E"}},
					&cli.Float64Flag{Name: "elevation", Aliases: []string{"Z"}},
					&cli.StringFlag{Name: "zone", Usage: "UTM zone, e.g. 36S"},
					&cli.Float64Flag{Name: "lat"},
					&cli.Float64Flag{Name: "lon"},
				},
				Action: func(c *cli.Context) error {
					store, err := rt.openStore()
					if err != nil {
						return outputError(err)
					}
					if _, err := store.GetSite(c.Context, c.Int64("site")); err != nil {
						return outputError(err)
					}
					st, err := db.StationInput{
						SiteID:      c.Int64("site"),
						Name:        c.String("name"),
						Description: optional(c, "description"),
						System:      db.CoordinateSystem(c.String("system")),
						Northing:    c.Float64("northing"),
						Easting:     c.Float64("easting"),
						Elevation:   c.Float64("elevation"),
						Zone:        c.String("zone"),
						Latitude:    c.Float64("lat"),
						Longitude:   c.Float64("lon"),
					}.Station()
					if err != nil {
						return outputError(err)
					}
					if err := store.CreateStation(c.Context, st); err != nil {
						return outputError(err)
					}
					return rt.outputJSON(st)
				},
			},
			{
				Name:  "list",
				Usage: "List the stations of a site",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "site", Required: true, Usage: "Site ID"},
				},
				Action: func(c *cli.Context) error {
					store, err := rt.openStore()
					if err != nil {
						return outputError(err)
					}
					stations, err := store.ListStations(c.Context, c.Int64("site"))
					if err != nil {
						return outputError(err)
					}
					return rt.outputJSON(stations)
				},
			},
			rt.deleteCmd("station", (*db.DB).DeleteStation),
		},
	}
}

// classListing is a class with its subclasses.
type classListing struct {
	db.Class
	Subclasses []db.Subclass `json:"subclasses"`
}

func (rt *runtime) classCmd() *cli.Command {
	return &cli.Command{
		Name:  "class",
		Usage: "Manage feature classes",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Create a class",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
				},
				Action: func(c *cli.Context) error {
					store, err := rt.openStore()
					if err != nil {
						return outputError(err)
					}
					class := &db.Class{Name: c.Args().First(), Description: optional(c, "description")}
					if err := store.CreateClass(c.Context, class); err != nil {
						return outputError(err)
					}
					return rt.outputJSON(class)
				},
			},
			{
				Name:  "list",
				Usage: "List classes with their subclasses",
				Action: func(c *cli.Context) error {
					store, err := rt.openStore()
					if err != nil {
						return outputError(err)
					}
					classes, err := store.ListClasses(c.Context)
					if err != nil {
						return outputError(err)
					}
					out := make([]classListing, 0, len(classes))
					for _, cl := range classes {
						subs, err := store.ListSubclasses(c.Context, cl.ID)
						if err != nil {
							return outputError(err)
						}
						out = append(out, classListing{Class: cl, Subclasses: subs})
					}
					return rt.outputJSON(out)
				},
			},
			rt.deleteCmd("class", (*db.DB).DeleteClass),
		},
	}
}

func (rt *runtime) subclassCmd() *cli.Command {
	return &cli.Command{
		Name:  "subclass",
		Usage: "Manage feature subclasses",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Create a subclass under a class",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "class", Required: true, Usage: "Class ID"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
				},
				Action: func(c *cli.Context) error {
					store, err := rt.openStore()
					if err != nil {
						return outputError(err)
					}
					sc := &db.Subclass{ClassID: c.Int64("class"), Name: c.Args().First(), Description: optional(c, "description")}
					if err := store.CreateSubclass(c.Context, sc); err != nil {
						return outputError(err)
					}
					return rt.outputJSON(sc)
				},
			},
			rt.deleteCmd("subclass", (*db.DB).DeleteSubclass),
		},
	}
}

type modelListing struct {
	Models []totalstation.Model `json:"models"`
	Ports  []string             `json:"ports"`
}

func (rt *runtime) modelsCmd() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "List supported instruments and the serial ports on this machine",
		Action: func(c *cli.Context) error {
			ports, err := serialmux.ListPorts()
			if err != nil {
				ports = nil
			}
			return rt.outputJSON(modelListing{Models: totalstation.AllModels(), Ports: ports})
		},
	}
}
