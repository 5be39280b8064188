package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/starford/dsms/internal"
	"github.com/starford/dsms/internal/dsms"
	"github.com/starford/dsms/internal/manifest"
	"github.com/starford/dsms/internal/mcpserver"
	pkgconfig "github.com/starford/dsms/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(cmd.String("config"), "", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// connect opens a client session. Logs go to stderr so stdout stays
// parseable.
func connect(ctx context.Context, cmd *cli.Command) (*dsms.Client, *internal.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.Logger(os.Stderr)
	c, err := dsms.Connect(ctx, cfg.DSMS, dsms.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return c, cfg, nil
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one kitem id is required")
	}
	ids := make([]uuid.UUID, 0, len(args))
	for _, a := range args {
		id, err := uuid.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("%q is not a kitem id", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the local DSMS backend",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "watch", Usage: "Apply manifests.path to the server and re-apply on change"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := internal.Run(ctx,
				internal.WithConfig(cfg),
				internal.WithManifestWatch(cmd.Bool("watch")),
			); err != nil {
				return fmt.Errorf("app run error: %w", err)
			}
			return nil
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Print kitems as YAML",
		ArgsUsage: "<id>...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ids, err := parseIDs(cmd.Args().Slice())
			if err != nil {
				return err
			}
			c, _, err := connect(ctx, cmd)
			if err != nil {
				return err
			}
			out := make([]map[string]any, 0, len(ids))
			for _, id := range ids {
				k, err := c.Get(ctx, id)
				if err != nil {
					return err
				}
				m, err := c.Export(k)
				if err != nil {
					return err
				}
				out = append(out, m)
			}
			return printYAML(os.Stdout, out)
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search kitems and print the hits as YAML",
		ArgsUsage: "[text]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "ktype", Usage: "Restrict hits to ktype ids"},
			&cli.StringSliceFlag{Name: "annotation", Usage: "Restrict hits to annotation IRIs"},
			&cli.IntFlag{Name: "limit", Value: 10},
			&cli.IntFlag{Name: "offset"},
			&cli.BoolFlag{Name: "fuzzy", Usage: "Retry word by word when the exact query has no hits"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, _, err := connect(ctx, cmd)
			if err != nil {
				return err
			}
			results, err := c.Search(ctx, dsms.SearchQuery{
				Text:        cmd.Args().First(),
				KTypes:      cmd.StringSlice("ktype"),
				Annotations: cmd.StringSlice("annotation"),
				Limit:       int(cmd.Int("limit")),
				Offset:      int(cmd.Int("offset")),
				AllowFuzzy:  cmd.Bool("fuzzy"),
			})
			if err != nil {
				return err
			}
			out := make([]map[string]any, 0, len(results))
			for _, r := range results {
				m, err := c.Export(r.KItem)
				if err != nil {
					return err
				}
				if r.Fuzzy {
					m["fuzzy"] = true
				}
				out = append(out, m)
			}
			return printYAML(os.Stdout, out)
		},
	}
}

type ktypeView struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields,omitempty"`
}

func ktypesCommand() *cli.Command {
	return &cli.Command{
		Name:  "ktypes",
		Usage: "List the known ktypes",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, _, err := connect(ctx, cmd)
			if err != nil {
				return err
			}
			if err := c.RefreshKTypes(ctx); err != nil {
				return err
			}
			var out []ktypeView
			for _, kt := range c.KTypes() {
				v := ktypeView{ID: kt.ID(), Name: kt.Name()}
				if s := kt.Schema(); s != nil {
					v.Fields = s.Order()
				}
				out = append(out, v)
			}
			return printYAML(os.Stdout, out)
		},
	}
}

func applyCommand() *cli.Command {
	return &cli.Command{
		Name:      "apply",
		Usage:     "Apply manifest files or directories",
		ArgsUsage: "<path>...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				return errors.New("at least one manifest path is required")
			}
			c, cfg, err := connect(ctx, cmd)
			if err != nil {
				return err
			}
			a := manifest.NewApplier(c, cfg.Logger(os.Stderr))
			var (
				reports []manifest.Report
				errs    []error
			)
			for _, p := range paths {
				info, err := os.Stat(p)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if info.IsDir() {
					reps, err := a.ApplyDir(ctx, p)
					reports = append(reports, reps...)
					errs = append(errs, err)
					continue
				}
				rep, err := a.ApplyFile(ctx, p)
				reports = append(reports, rep)
				errs = append(errs, err)
			}
			if err := printYAML(os.Stdout, reports); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete kitems and app configurations",
		ArgsUsage: "<id>...",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "app", Usage: "App configuration names to delete"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			apps := cmd.StringSlice("app")
			var ids []uuid.UUID
			if cmd.Args().Len() > 0 || len(apps) == 0 {
				var err error
				if ids, err = parseIDs(cmd.Args().Slice()); err != nil {
					return err
				}
			}
			c, _, err := connect(ctx, cmd)
			if err != nil {
				return err
			}
			var targets []dsms.Deletable
			for _, id := range ids {
				k, err := c.Get(ctx, id)
				if err != nil {
					return err
				}
				targets = append(targets, k)
			}
			for _, name := range apps {
				app, err := c.App(ctx, name)
				if err != nil {
					return err
				}
				targets = append(targets, app)
			}
			c.Delete(targets...)
			if err := c.Commit(ctx); err != nil {
				return err
			}
			_, err = fmt.Fprintf(os.Stdout, "deleted %d\n", len(targets))
			return err
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Apply a manifest directory and re-apply it on change",
		ArgsUsage: "[dir]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, cfg, err := connect(ctx, cmd)
			if err != nil {
				return err
			}
			dir := cfg.Manifests.Path
			if cmd.Args().Len() > 0 {
				dir = cmd.Args().First()
			}
			return internal.WatchManifests(ctx, c, dir, cfg.Logger(os.Stderr), nil)
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the DSMS tools over MCP on stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, _, err := connect(ctx, cmd)
			if err != nil {
				return err
			}
			return mcpserver.New(c).ServeStdio()
		},
	}
}
