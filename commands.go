package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ptgott/hbase-template/connection"
	"github.com/ptgott/hbase-template/operations"
	"github.com/ptgott/hbase-template/rowkey"
	"github.com/ptgott/hbase-template/storage"
	"github.com/ptgott/hbase-template/telemetry"
	"github.com/ptgott/hbase-template/userconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

// Keys of cli.App.Metadata
const (
	metaManager  = "manager"
	metaTemplate = "template"
	metaRegistry = "registry"
)

// newApp creates the CLI application. Command output goes to out.
func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:  "hbase-template",
		Usage: "administer and query an HBase cluster (or a local stand-in)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a JSON or YAML file containing your configuration",
				EnvVars: []string{"HBASE_TEMPLATE_CONFIG"},
				Value:   "./config.yaml",
			},
			&cli.StringFlag{
				Name:  "level",
				Usage: `log level: "info", "debug", or "warn"`,
				Value: "info",
			},
		},
		Writer:   out,
		Metadata: map[string]interface{}{},
		Before:   setup,
		After:    teardown,
		Commands: []*cli.Command{
			listCommand(),
			existsCommand(),
			createCommand(),
			dropCommand(),
			truncateCommand(),
			getCommand(),
			putCommand(),
			deleteCommand(),
			scanCommand(),
			watchCommand(),
		},
	}
}

func setLevel(level string) {
	switch level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}
}

// setup reads the config and wires a connection manager and a Template into
// the app's metadata. No connection is made until a command needs one.
func setup(c *cli.Context) error {
	setLevel(c.String("level"))

	configPath := c.String("config")
	log.Debug().Str("configPath", configPath).Msg("reading the config")

	f, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("can't open the application config file: %w", err)
	}
	defer f.Close()

	config, err := userconfig.Parse(f)
	if err != nil {
		return fmt.Errorf("problem parsing your config: %w", err)
	}
	checked, err := config.CheckAndSetDefaults()
	if err != nil {
		return fmt.Errorf("problem validating your config: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics, err := telemetry.NewPrometheusCollector(registry)
	if err != nil {
		return err
	}

	logger := log.Logger
	builder := &userconfig.SnapshotBuilder{
		Store: checked.Store,
		Log:   logger,
	}
	mgr, err := connection.NewManager(connection.Options{
		Build:   builder.Build,
		Dial:    connection.NewDialer(checked.Local, logger),
		Auth:    checked.Store.Auth,
		Metrics: metrics,
		Logger:  &logger,
	})
	if err != nil {
		return err
	}

	c.App.Metadata[metaManager] = mgr
	c.App.Metadata[metaRegistry] = registry
	c.App.Metadata[metaTemplate] = operations.NewTemplate(mgr, checked.Store.BatchPutLimit, logger)
	return nil
}

func teardown(c *cli.Context) error {
	if mgr, ok := c.App.Metadata[metaManager].(*connection.Manager); ok {
		return mgr.Close()
	}
	return nil
}

func template(c *cli.Context) *operations.Template {
	return c.App.Metadata[metaTemplate].(*operations.Template)
}

// args returns the command's positional arguments, requiring at least min of
// them.
func args(c *cli.Context, min int, usage string) ([]string, error) {
	a := c.Args().Slice()
	if len(a) < min {
		return nil, fmt.Errorf("usage: %v %v", c.Command.Name, usage)
	}
	return a, nil
}

func keyTypeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "type",
		Aliases: []string{"t"},
		Usage:   `row key type: "string", "long", "int" or "double"`,
		Value:   string(rowkey.TypeString),
	}
}

func familyFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:    "family",
		Aliases: []string{"f"},
		Usage:   "column family to read; repeat for more than one",
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list tables",
		Action: func(c *cli.Context) error {
			tables, err := template(c).ListTables(c.Context)
			if err != nil {
				return err
			}
			for _, t := range tables {
				fmt.Fprintln(c.App.Writer, t)
			}
			return nil
		},
	}
}

func existsCommand() *cli.Command {
	return &cli.Command{
		Name:      "exists",
		Usage:     "report whether a table exists",
		ArgsUsage: "TABLE",
		Action: func(c *cli.Context) error {
			a, err := args(c, 1, "TABLE")
			if err != nil {
				return err
			}
			ok, err := template(c).TableExists(c.Context, a[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, ok)
			return nil
		},
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "create a table",
		ArgsUsage: "TABLE FAMILY [FAMILY...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "split",
				Usage: "row key to pre-split the table at; repeat for more regions",
			},
			keyTypeFlag(),
		},
		Action: func(c *cli.Context) error {
			a, err := args(c, 2, "TABLE FAMILY [FAMILY...]")
			if err != nil {
				return err
			}
			var splits [][]byte
			for _, s := range c.StringSlice("split") {
				k, err := rowkey.Parse(rowkey.Type(c.String("type")), s)
				if err != nil {
					return err
				}
				splits = append(splits, k)
			}
			return template(c).CreateTableWithSplits(c.Context, a[0], a[1:], splits)
		},
	}
}

func dropCommand() *cli.Command {
	return &cli.Command{
		Name:      "drop",
		Usage:     "disable and delete tables",
		ArgsUsage: "TABLE [TABLE...]",
		Action: func(c *cli.Context) error {
			a, err := args(c, 1, "TABLE [TABLE...]")
			if err != nil {
				return err
			}
			return template(c).DropTables(c.Context, a)
		},
	}
}

func truncateCommand() *cli.Command {
	return &cli.Command{
		Name:      "truncate",
		Usage:     "delete every row of a table",
		ArgsUsage: "TABLE",
		Action: func(c *cli.Context) error {
			a, err := args(c, 1, "TABLE")
			if err != nil {
				return err
			}
			return template(c).TruncateTable(c.Context, a[0])
		},
	}
}

// printRow writes one line per cell.
func printRow(w io.Writer, t rowkey.Type, r storage.Row) {
	for _, cell := range r.Cells {
		fmt.Fprintf(w, "%v\t%v:%v\t%v\t%q\n",
			rowkey.Format(t, r.Key),
			cell.Family,
			cell.Qualifier,
			cell.Timestamp,
			cell.Value,
		)
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "read one row",
		ArgsUsage: "TABLE ROW",
		Flags:     []cli.Flag{keyTypeFlag(), familyFlag()},
		Action: func(c *cli.Context) error {
			a, err := args(c, 2, "TABLE ROW")
			if err != nil {
				return err
			}
			t := rowkey.Type(c.String("type"))
			k, err := rowkey.Parse(t, a[1])
			if err != nil {
				return err
			}
			r, err := template(c).Get(c.Context, a[0], k, c.StringSlice("family")...)
			if err != nil {
				return err
			}
			printRow(c.App.Writer, t, r)
			return nil
		},
	}
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "write one cell",
		ArgsUsage: "TABLE ROW FAMILY QUALIFIER VALUE",
		Action: func(c *cli.Context) error {
			a, err := args(c, 5, "TABLE ROW FAMILY QUALIFIER VALUE")
			if err != nil {
				return err
			}
			return template(c).Put(c.Context, a[0], a[1], a[2], a[3], []byte(a[4]))
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete a column family, or some of its columns, from a row",
		ArgsUsage: "TABLE ROW FAMILY [QUALIFIER...]",
		Action: func(c *cli.Context) error {
			a, err := args(c, 3, "TABLE ROW FAMILY [QUALIFIER...]")
			if err != nil {
				return err
			}
			if len(a) > 3 {
				return template(c).DeleteColumns(c.Context, a[0], a[1], a[2], a[3:]...)
			}
			return template(c).Delete(c.Context, a[0], a[1], a[2])
		},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "read a range of rows",
		ArgsUsage: "TABLE",
		Flags: []cli.Flag{
			keyTypeFlag(),
			familyFlag(),
			&cli.StringFlag{Name: "start", Usage: "first row key (inclusive)"},
			&cli.StringFlag{Name: "stop", Usage: "last row key (exclusive)"},
			&cli.StringFlag{Name: "prefix", Usage: "only rows whose keys begin with this string"},
			&cli.TimestampFlag{Name: "from", Layout: time.RFC3339, Usage: "only cells written at or after this time"},
			&cli.TimestampFlag{Name: "to", Layout: time.RFC3339, Usage: "only cells written before this time"},
			&cli.IntFlag{Name: "limit", Usage: "maximum number of rows"},
		},
		Action: func(c *cli.Context) error {
			a, err := args(c, 1, "TABLE")
			if err != nil {
				return err
			}
			t := rowkey.Type(c.String("type"))
			spec := storage.ScanSpec{
				Prefix:   []byte(c.String("prefix")),
				Families: c.StringSlice("family"),
				Limit:    c.Int("limit"),
			}
			for name, dst := range map[string]*[]byte{"start": &spec.StartRow, "stop": &spec.StopRow} {
				if !c.IsSet(name) {
					continue
				}
				if *dst, err = rowkey.Parse(t, c.String(name)); err != nil {
					return err
				}
			}
			if ts := c.Timestamp("from"); ts != nil {
				spec.From = *ts
			}
			if ts := c.Timestamp("to"); ts != nil {
				spec.To = *ts
			}
			return template(c).ScanEach(c.Context, a[0], spec, func(r storage.Row) bool {
				printRow(c.App.Writer, t, r)
				return true
			})
		},
	}
}

// watchCommand keeps a connection open, renewing it on schedule when the
// credentials expire, and serves connection metrics until interrupted.
func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "hold a store connection open, renewing credentials, and serve metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "address to serve Prometheus metrics on",
				Value: ":9100",
			},
		},
		Action: func(c *cli.Context) error {
			mgr := c.App.Metadata[metaManager].(*connection.Manager)
			registry := c.App.Metadata[metaRegistry].(*prometheus.Registry)

			if _, err := mgr.Get(c.Context); err != nil {
				return err
			}
			if !mgr.Start(c.Context) {
				log.Info().Msg("credentials don't expire; holding the connection without renewing it")
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			srv := &http.Server{
				Addr:              c.String("metrics-addr"),
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-c.Context.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()

			log.Info().Str("addr", srv.Addr).Msg("serving metrics")
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}
}
