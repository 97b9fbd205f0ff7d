package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"

	"github.com/pdok/terrapack/config"
	"github.com/pdok/terrapack/geomhelp"
	"github.com/pdok/terrapack/mapslicehelp"
	"github.com/pdok/terrapack/mask"
	"github.com/pdok/terrapack/processing"
	"github.com/pdok/terrapack/tilekey"
	"github.com/pdok/terrapack/tilestore"
)

const CONFIG string = `config`
const USERNAME string = `username`
const PASSWORD string = `password`
const PARALLEL string = `parallel`
const OVERWRITE string = `overwrite`
const LIST string = `list`

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

//nolint:funlen
func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "terrapack"
	app.Usage = "Download elevation tiles and pack height and mask into PNG tiles"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    CONFIG,
			Aliases: []string{"c"},
			Usage:   "YAML or TOML config file. Without one the defaults apply",
			EnvVars: []string{strcase.ToScreamingSnake(CONFIG)},
		},
		&cli.StringFlag{
			Name:    USERNAME,
			Usage:   "Basic auth user for the source",
			EnvVars: []string{strcase.ToScreamingSnake(USERNAME)},
		},
		&cli.StringFlag{
			Name:    PASSWORD,
			Usage:   "Basic auth password for the source",
			EnvVars: []string{strcase.ToScreamingSnake(PASSWORD)},
		},
		&cli.IntFlag{
			Name:    PARALLEL,
			Aliases: []string{"p"},
			Usage:   "How many tiles are processed at the same time, overrides batch.parallel",
			EnvVars: []string{strcase.ToScreamingSnake(PARALLEL)},
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:            "key",
			Usage:           "Print the tile key and region key of a coordinate",
			ArgsUsage:       "LAT LON",
			SkipFlagParsing: true,
			Action: func(c *cli.Context) error {
				lat, lon, err := latLonArgs(c)
				if err != nil {
					return err
				}
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				key := tilekey.FromLatLon(lat, lon)
				extent, err := key.Extent()
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%s %s %s\n", key, tilekey.Region(lat, lon, cfg.Source.SectorSize),
					geomhelp.WktMustEncode(geomhelp.ExtentPolygon(extent), 0))
				return nil
			},
		},
		{
			Name:      "mask",
			Usage:     "Decode a mask byte",
			ArgsUsage: "BYTE",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  LIST,
					Usage: "List the known provenance datasets",
				},
			},
			Action: func(c *cli.Context) error {
				if c.Bool(LIST) {
					for _, d := range mask.Datasets() {
						fmt.Fprintf(c.App.Writer, "0x%02X %s\n", d.Bits, d.Name)
					}
					return nil
				}
				v, err := strconv.ParseUint(c.Args().First(), 0, 8)
				if err != nil {
					return fmt.Errorf("mask should be a byte (e.g. 252 or 0xFC): %w", err)
				}
				info := mask.Decode(byte(v))
				fmt.Fprintf(c.App.Writer, "category=%s valid=%t landWater=%t lowCorrelation=%t sea=%t dataset=%q\n",
					info.Category, info.Valid, info.LandWater, info.LowCorrelation, info.Sea, info.Dataset)
				return nil
			},
		},
		{
			Name:  "download",
			Usage: "Download the archives of every tile in the batch box",
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				keys, err := cfg.Batch.Keys()
				if err != nil {
					return err
				}
				store, err := openStore(cfg)
				if err != nil {
					return err
				}
				defer store.States().Close()
				ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
				defer stop()
				report := processing.NewReport()
				if err = processing.Download(ctx, store, keys, cfg.Batch.Parallel, report); err != nil {
					return err
				}
				logFailures(report)
				return nil
			},
		},
		{
			Name:  "pack",
			Usage: "Encode every downloaded tile of the batch box into a full resolution PNG",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:    OVERWRITE,
					Aliases: []string{"o"},
					Usage:   "Re-encode tiles that already have a PNG",
					EnvVars: []string{strcase.ToScreamingSnake(OVERWRITE)},
				},
			},
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				keys, err := cfg.Batch.Keys()
				if err != nil {
					return err
				}
				packer := &processing.Packer{
					Archives:  cfg.Paths.Archives,
					Full:      cfg.Paths.Full,
					Empty:     cfg.Paths.Empty,
					Encode:    cfg.Encode,
					Overwrite: c.Bool(OVERWRITE),
				}
				ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
				defer stop()
				report := processing.NewReport()
				if err = packer.Pack(ctx, keys, cfg.Batch.Parallel, report); err != nil {
					return err
				}
				logFailures(report)
				return nil
			},
		},
		{
			Name:  "reduce",
			Usage: "Derive the configured low resolution tiers from the full resolution PNGs",
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				keys, err := cfg.Batch.Keys()
				if err != nil {
					return err
				}
				report := processing.NewReport()
				processing.Reduce(cfg.Paths.Full, cfg.Paths.Low, keys, cfg.Tiers, report)
				logFailures(report)
				return nil
			},
		},
		{
			Name:            "height",
			Usage:           "Print height and mask at a coordinate",
			ArgsUsage:       "LAT LON",
			SkipFlagParsing: true,
			Action: func(c *cli.Context) error {
				lat, lon, err := latLonArgs(c)
				if err != nil {
					return err
				}
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				l, err := cfg.NewLookup()
				if err != nil {
					return err
				}
				s, err := l.Height(c.Context, lat, lon)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "tile=%s height=%d elevation=%g mask=0x%02X category=%s dataset=%q\n",
					s.Key, s.Height, s.Elevation(cfg.Encode.Options), s.Mask, s.Info.Category, s.Info.Dataset)
				if s.Bounds != nil {
					fmt.Fprintf(c.App.Writer, "pixel %s\n", geomhelp.WktMustEncode(geomhelp.ExtentPolygon(*s.Bounds), 0))
				}
				return nil
			},
		},
		{
			Name:  "status",
			Usage: "Summarise the recorded download states",
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				states, err := tilestore.OpenStateStore(cfg.State.Backend, cfg.StatePath())
				if err != nil {
					return err
				}
				defer states.Close()
				summary, err := tilestore.Summarize(states)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%d tiles recorded\n", summary.Total)
				for _, status := range []tilestore.Status{tilestore.StatusSuccess, tilestore.StatusNotFound, tilestore.StatusGatewayTimeout} {
					fmt.Fprintf(c.App.Writer, "  %-16s %d\n", status, summary.Counts[status])
				}
				for _, e := range summary.Failed {
					fmt.Fprintf(c.App.Writer, "%s %s\n", e.Key, e.Status)
				}
				return nil
			},
		},
		{
			Name:      "forget",
			Usage:     "Delete recorded download states, so the next download retries those tiles",
			ArgsUsage: "KEY...",
			Action: func(c *cli.Context) error {
				keys := make([]tilekey.Key, 0, c.NArg())
				for _, arg := range c.Args().Slice() {
					key, err := tilekey.Parse(arg)
					if err != nil {
						return err
					}
					keys = append(keys, key)
				}
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				states, err := tilestore.OpenStateStore(cfg.State.Backend, cfg.StatePath())
				if err != nil {
					return err
				}
				defer states.Close()
				unique := make([]tilekey.Key, 0, len(keys))
				for key := range mapslicehelp.AsKeys(keys) {
					unique = append(unique, key)
				}
				n, err := states.Delete(unique...)
				if err != nil {
					return err
				}
				log.Printf("forgot %d of %d tiles", n, len(unique))
				return nil
			},
		},
	}

	return app
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(CONFIG))
	if err != nil {
		return nil, err
	}
	if c.IsSet(USERNAME) {
		cfg.Source.Username = c.String(USERNAME)
	}
	if c.IsSet(PASSWORD) {
		cfg.Source.Password = c.String(PASSWORD)
	}
	if c.IsSet(PARALLEL) {
		cfg.Batch.Parallel = c.Int(PARALLEL)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*tilestore.Store, error) {
	states, err := tilestore.OpenStateStore(cfg.State.Backend, cfg.StatePath())
	if err != nil {
		return nil, err
	}
	return tilestore.New(cfg.Source, cfg.Paths.Archives, states, nil), nil
}

func latLonArgs(c *cli.Context) (float64, float64, error) {
	if c.NArg() != 2 {
		return 0, 0, fmt.Errorf("expected LAT LON, got %d arguments", c.NArg())
	}
	lat, err := strconv.ParseFloat(c.Args().Get(0), 64)
	if err != nil {
		return 0, 0, err
	}
	lon, err := strconv.ParseFloat(c.Args().Get(1), 64)
	if err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

func logFailures(report *processing.Report) {
	for _, f := range report.Failures() {
		log.Printf("  failed: %v", f)
	}
}
