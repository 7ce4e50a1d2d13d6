// Public domain.

// Package synthprog is the synth command: render an SDSS frame from its
// reference catalog, tune the fluxes against the data, and page through
// the results in a flip-book.
package synthprog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/soniakeys/exit"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/soniakeys/cs82phot/internal/catalog"
	"github.com/soniakeys/cs82phot/internal/fit"
	"github.com/soniakeys/cs82phot/internal/frame"
	"github.com/soniakeys/cs82phot/internal/store"
)

const versionString = "synth version 0.1 Go source."

func Main() {
	defer exit.Handler()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	cmd := newCommand(Run)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			cmd.Usage()
			os.Exit(-1)
		}
		exit.Log(err)
	}
}

var errUsage = errors.New("usage")

// commandLine holds everything synth takes from its flags.
type commandLine struct {
	run, camcol, field int
	band               string
	curl               bool
	tune               []Tune
	roi                []int
	prefix             string
	verbose            int
	debug              bool
	plotAll            bool

	outDir   string
	imageDir string
	das      string
	local    bool
	refDB    string
	photoObj string
}

// Key is the frame named on the command line.
func (cl *commandLine) Key() frame.Key {
	return frame.Key{Run: cl.run, Camcol: cl.camcol, Field: cl.field, Band: cl.band[0]}
}

// Prefix is the output prefix, by default RRRRRR-BC-FFFF.
func (cl *commandLine) Prefix() string {
	if cl.prefix != "" {
		return cl.prefix
	}
	return cl.Key().String()
}

func (cl *commandLine) check() error {
	if cl.run == 0 || cl.camcol == 0 || cl.field == 0 || cl.band == "" {
		return fmt.Errorf("%w: run, camcol, field, and band are required", errUsage)
	}
	if len(cl.band) != 1 || !strings.Contains(catalog.AllBands, cl.band) {
		return fmt.Errorf("%w: band must be one of %s", errUsage, catalog.AllBands)
	}
	if cl.roi != nil && len(cl.roi) != 4 {
		return fmt.Errorf("%w: roi takes x0,x1,y0,y1", errUsage)
	}
	return nil
}

// tuneValue appends one kind of directive to a list shared by the
// --ntune and --itune flags, so directives keep command line order.
type tuneValue struct {
	list *[]Tune
	kind byte
}

var _ pflag.Value = tuneValue{}

func (v tuneValue) String() string {
	var s []string
	for _, t := range *v.list {
		if t.Kind != v.kind {
			continue
		}
		if t.Kind == 'i' {
			s = append(s, fmt.Sprintf("%d,%d", t.Steps, t.NSteps))
		} else {
			s = append(s, strconv.Itoa(t.Steps))
		}
	}
	return "[" + strings.Join(s, " ") + "]"
}

func (v tuneValue) Set(s string) error {
	t := Tune{Kind: v.kind}
	var err error
	if v.kind == 'n' {
		t.Steps, err = strconv.Atoi(s)
	} else {
		a, b, ok := strings.Cut(s, ",")
		if !ok {
			return fmt.Errorf("want N,M, got %q", s)
		}
		if t.Steps, err = strconv.Atoi(a); err == nil {
			t.NSteps, err = strconv.Atoi(b)
		}
	}
	if err != nil {
		return err
	}
	if t.Steps < 1 || v.kind == 'i' && t.NSteps < 1 {
		return fmt.Errorf("tuning steps must be positive, got %q", s)
	}
	*v.list = append(*v.list, t)
	return nil
}

func (v tuneValue) Type() string {
	if v.kind == 'i' {
		return "N,M"
	}
	return "N"
}

type runFunc func(ctx context.Context, cl *commandLine, log *zap.SugaredLogger) error

func newCommand(run runFunc) *cobra.Command {
	var cl commandLine
	cmd := &cobra.Command{
		Use:           "synth",
		Short:         "Synthesize an SDSS frame from its catalog and tune fluxes",
		Version:       versionString,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.check(); err != nil {
				return err
			}
			log, err := newLogger(cl.verbose)
			if err != nil {
				return err
			}
			defer log.Sync()
			return run(cmd.Context(), &cl, log)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&cl.run, "run", "r", 0, "SDSS run")
	f.IntVarP(&cl.camcol, "camcol", "c", 0, "SDSS camcol")
	f.IntVarP(&cl.field, "field", "f", 0, "SDSS field")
	f.StringVarP(&cl.band, "band", "b", "", "SDSS band, one of "+catalog.AllBands)
	f.BoolVar(&cl.curl, "curl", false, `use "curl", not "wget", to download files`)
	f.Var(tuneValue{&cl.tune, 'n'}, "ntune", "run N global tuning steps, may repeat")
	f.Var(tuneValue{&cl.tune, 'i'}, "itune", "run N rounds of M steps tuning each source alone, may repeat")
	f.IntSliceVar(&cl.roi, "roi", nil, "region of interest x0,x1,y0,y1")
	f.StringVar(&cl.prefix, "prefix", "", "output file prefix (default RRRRRR-BC-FFFF)")
	f.CountVarP(&cl.verbose, "verbose", "v", "more logging")
	f.BoolVarP(&cl.debug, "debug", "d", false, "draw source outlines on the images")
	f.BoolVar(&cl.plotAll, "plotAll", false, "images for each source alone")
	f.StringVar(&cl.outDir, "outdir", ".", "output directory")
	f.StringVar(&cl.imageDir, "dir", "data/unzip", "local SDSS frame directory")
	f.StringVar(&cl.das, "das", frame.DefaultURL, "SDSS DAS url")
	f.BoolVarP(&cl.local, "local", "l", false, "use local frames only, no downloads")
	f.StringVar(&cl.refDB, "refdb", "cs82phot.db", "reference object database")
	f.StringVar(&cl.photoObj, "photoobj", "", "read reference objects from this photoObj file instead")
	return cmd
}

func newLogger(verbose int) (*zap.SugaredLogger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.OutputPaths = []string{"stdout"}
	zc.DisableStacktrace = true
	if verbose == 0 {
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Run renders, tunes, and typesets one frame.
func Run(ctx context.Context, cl *commandLine, log *zap.SugaredLogger) error {
	return run(ctx, cl, log, PDFLatex)
}

func run(ctx context.Context, cl *commandLine, log *zap.SugaredLogger, latex Latex) error {
	k := cl.Key()
	tool := frame.Wget
	if cl.curl {
		tool = frame.Curl
	}
	fs := &frame.Store{Dir: cl.imageDir, URL: cl.das, Local: cl.local, Tool: tool, Log: log}
	im, err := fs.Open(ctx, k)
	if err != nil {
		return err
	}
	if cl.roi != nil {
		r := cl.roi
		if im = im.Sub(r[0], r[1], r[2], r[3]); im == nil {
			return fmt.Errorf("roi %v is outside frame %s", r, k)
		}
	}
	log.Infow("frame", "key", k.String(), "w", im.W, "h", im.H, "skysig", im.SkySig)

	objs, err := refObjects(ctx, cl, im, log)
	if err != nil {
		return err
	}
	srcs := Sources(objs, im, log)
	log.Infow("sources", "reference", len(objs), "on frame", len(srcs))

	if err := os.MkdirAll(cl.outDir, 0o755); err != nil {
		return err
	}
	s := &Synth{
		Image:   im,
		Sources: srcs,
		ROI:     cl.roi,
		Dir:     cl.outDir,
		Debug:   cl.debug,
		PlotAll: cl.plotAll,
		Fitter:  fit.LSQ{},
		Log:     log,
	}
	prefix := cl.Prefix()
	if err := s.Save(prefix); err != nil {
		return err
	}
	if err := s.Tune(ctx, cl.tune, prefix); err != nil {
		return err
	}
	if _, err := s.MakeFlipbook(ctx, prefix, cl.tune, latex); err != nil {
		log.Warnw("flip-book", "err", err)
	}
	return nil
}

func refObjects(ctx context.Context, cl *commandLine, im *frame.Image, log *zap.SugaredLogger) ([]store.RefObject, error) {
	if cl.photoObj != "" {
		log.Debugw("reading reference objects", "file", cl.photoObj)
		return store.ReadPhotoObj(cl.photoObj)
	}
	db, err := store.Open(cl.refDB, log)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.RefObjects(ctx, im.WCS.Footprint(), true)
}
