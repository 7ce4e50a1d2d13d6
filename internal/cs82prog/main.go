// Public domain.

// Package cs82prog is the cs82phot command: forced SDSS photometry of a
// CS82 deep catalog, one sky tile at a time.
package cs82prog

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/soniakeys/exit"
	sexa "github.com/soniakeys/sexagesimal"
	"github.com/soniakeys/unit"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soniakeys/cs82phot/internal/catalog"
	"github.com/soniakeys/cs82phot/internal/config"
	"github.com/soniakeys/cs82phot/internal/diag"
	"github.com/soniakeys/cs82phot/internal/fields"
	"github.com/soniakeys/cs82phot/internal/fit"
	"github.com/soniakeys/cs82phot/internal/frame"
	"github.com/soniakeys/cs82phot/internal/photom"
	"github.com/soniakeys/cs82phot/internal/sky"
	"github.com/soniakeys/cs82phot/internal/store"
	"github.com/soniakeys/cs82phot/internal/tile"
)

const versionString = "cs82phot version 0.1 Go source."

func Main() {
	defer exit.Handler()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newCommand(Run).ExecuteContext(ctx); err != nil {
		exit.Log(err)
	}
}

type commandLine struct {
	bands   string
	local   bool
	das     string
	config  string
	field   string
	verbose bool
}

type runFunc func(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error

func newCommand(run runFunc) *cobra.Command {
	var cl commandLine
	cmd := &cobra.Command{
		Use:     "cs82phot",
		Short:   "Forced SDSS photometry of a CS82 deep catalog",
		Version: versionString,
		Args:    cobra.NoArgs,
		// errors go through exit.Log, once
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := settings(cmd, &cl)
			if err != nil {
				return err
			}
			log, err := newLogger(cl.verbose)
			if err != nil {
				return err
			}
			defer log.Sync()
			return run(cmd.Context(), cfg, log)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&cl.bands, "bands", "b", catalog.AllBands, "SDSS bands")
	f.BoolVarP(&cl.local, "local", "l", false, "use local SDSS tree only, no downloads")
	f.StringVar(&cl.das, "das", frame.DefaultURL, "SDSS DAS url")
	f.StringVarP(&cl.config, "config", "c", "", "YAML config file")
	f.StringVar(&cl.field, "field", "S82p18p", "CS82 field name")
	f.BoolVarP(&cl.verbose, "verbose", "v", false, "debug logging")
	return cmd
}

// settings loads the config file, if any, then applies flags given on
// the command line.
func settings(cmd *cobra.Command, cl *commandLine) (*config.Config, error) {
	var opts []config.Option
	if cl.config != "" {
		opts = append(opts, config.WithConfigPath(cl.config))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}
	fl := cmd.Flags()
	if fl.Changed("bands") {
		cfg.Bands = cl.bands
	}
	if fl.Changed("local") {
		cfg.Local = cl.local
	}
	if fl.Changed("das") {
		cfg.DASURL = cl.das
	}
	if fl.Changed("field") {
		cfg.Field = cl.field
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.OutputPaths = []string{"stdout"}
	zc.DisableStacktrace = true
	if !verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Run does a full photometry run as configured.
func Run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	t0 := time.Now()
	log.Infow(versionString, "field", cfg.Field, "bands", cfg.Bands)

	fn := cfg.CatalogPath()
	cat, err := catalog.ReadFITS(fn, cfg.CatalogHDU, cfg.Bands)
	if err != nil {
		return err
	}
	log.Infow("read catalog", "file", fn, "rows", cat.Len())
	box := cat.Bounds()
	log.Infow("catalog range",
		"ra0", fmtRA(box.RA0), "ra1", fmtRA(box.RA1),
		"dec0", fmtDec(box.Dec0), "dec1", fmtDec(box.Dec1))
	if err := sky.CheckWrap(box); err != nil {
		return err
	}

	db, err := store.Open(cfg.RefDB, log)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := importRefs(ctx, db, cfg.PhotoObj, log); err != nil {
		return err
	}

	fs, err := fields.Load(ctx, log, db, cfg.Field, cfg.WindowFlist, box, cfg.EnclosedOnly)
	if err != nil {
		return err
	}
	if len(fs) > 0 {
		lo, hi := fs[0].Score, fs[0].Score
		for _, f := range fs {
			lo, hi = min(lo, f.Score), max(hi, f.Score)
		}
		log.Infow("score range", "min", lo, "max", hi)
	}
	n := len(fs)
	fs = fields.CutScore(fs, cfg.MinScore)
	log.Infow("cut on score", "before", n, "after", len(fs))

	for _, d := range []string{cfg.OutDir, cfg.DiagDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	var dw *diag.Writer
	if cfg.DiagDir != "" {
		dw = &diag.Writer{Dir: cfg.DiagDir, Prefix: "cs82-", Log: log}
		footprint(dw, cat, box, fs, log)
	}

	d := &photom.Driver{
		MagLim:      cfg.MagLim,
		MatchRadius: unit.AngleFromSec(cfg.MatchArcsec),
		Images: &frame.Store{
			Dir:       cfg.ImageDir,
			URL:       cfg.DASURL,
			Local:     cfg.Local,
			Tool:      cfg.Tool(),
			CacheSize: cfg.FrameCache,
			Log:       log,
		},
		Refs:   db,
		Fitter: fit.LSQ{},
		Opts: fit.Options{
			MinDlnP:    cfg.MinDlnP,
			MaxSteps:   cfg.MaxSteps,
			WantImages: dw != nil,
		},
		Diag:       dw,
		Checkpoint: &catalog.Checkpoint{Dir: cfg.OutDir, Field: cfg.Field},
		Log:        log,
	}
	grid := tile.NewGrid(box, cfg.GridEdges, unit.AngleFromSec(cfg.MarginArcsec))
	sum, err := d.Run(ctx, cat, grid, fs)
	if err != nil {
		return err
	}
	out, err := d.Checkpoint.WriteFinal(cat)
	if err != nil {
		return err
	}
	log.Infow("wrote", "file", out, "tiles", sum.Tiles, "done", len(cat.Done()),
		"images", sum.Images, "elapsed", time.Since(t0).Round(time.Second))
	return nil
}

// importRefs fills an empty reference store from photoObj files.
func importRefs(ctx context.Context, db *store.DB, patterns []string, log *zap.SugaredLogger) error {
	n, err := db.CountRefObjects(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Infow("reference objects", "db", db.Path, "count", n)
		return nil
	}
	var paths []string
	for _, p := range patterns {
		m, err := filepath.Glob(p)
		if err != nil {
			return fmt.Errorf("photoobj pattern %q: %w", p, err)
		}
		paths = append(paths, m...)
	}
	if len(paths) == 0 {
		log.Warnw("no reference objects, fluxes start from catalog magnitudes", "db", db.Path)
		return nil
	}
	n, err = db.ImportPhotoObj(ctx, paths...)
	if err != nil {
		return err
	}
	log.Infow("imported reference objects", "files", len(paths), "count", n)
	return nil
}

// footprint writes the overview of catalog density and field outlines.
func footprint(dw *diag.Writer, cat *catalog.Catalog, box sky.Box, fs []fields.Field, log *zap.SugaredLogger) {
	ra := make([]float64, cat.Len())
	dec := make([]float64, cat.Len())
	for i := range cat.Sources {
		ra[i], dec[i] = cat.Sources[i].RA, cat.Sources[i].Dec
	}
	boxes := make([]sky.Box, len(fs))
	for i := range fs {
		boxes[i] = fs[i].Box()
	}
	if _, err := dw.Save("footprint", diag.Footprint(box, 200, 200, ra, dec, boxes)); err != nil {
		log.Warnw("footprint", "err", err)
	}
}

func fmtRA(a unit.Angle) string {
	return fmt.Sprintf("%.1d", sexa.FmtRA(unit.RAFromRad(a.Rad())))
}

func fmtDec(a unit.Angle) string {
	return fmt.Sprintf("%.0d", sexa.FmtAngle(a))
}
