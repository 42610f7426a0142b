package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	arg "github.com/alexflint/go-arg"
	"go.uber.org/zap"

	"github.com/pilahsampah/pilah/internal/app"
	"github.com/pilahsampah/pilah/internal/config"
	"github.com/pilahsampah/pilah/internal/detector"
	"github.com/pilahsampah/pilah/internal/tray"
)

const configName = "pilah.yaml"

var version = "<not set>"

type Args struct {
	ConfigFile string `arg:"-c,--config" help:"path to configuration file"`
	Camera     int    `arg:"--camera" help:"camera device id (-1 keeps the configured one)"`
	Model      string `arg:"-m,--model" help:"path to the ONNX model"`
	Labels     string `arg:"-l,--labels" help:"path to the labels file"`
	Backend    string `arg:"-b,--backend" help:"detector backend: gpu or cpu"`
	Headless   bool   `arg:"--headless" help:"run without the tray icon"`
	Verbose    bool   `arg:"-v,--verbose" help:"make logging more verbose"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	args.Camera = -1
	arg.MustParse(&args)
	return args
}

func main() {
	if err := runMain(); err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	args := procArgs()

	logger, err := newLogger(args.Verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("pilah starting", "version", version)

	cfg, err := loadConfig(args, sugar)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, app.Deps{Logger: sugar})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.UI.Headless {
		logResults(a, sugar)
		return a.Run(ctx)
	}
	return runWithTray(ctx, stop, a, cfg)
}

// runWithTray runs the pipeline in the background while the tray owns
// the main goroutine, as systray requires.
func runWithTray(ctx context.Context, stop context.CancelFunc, a *app.App, cfg *config.Config) error {
	t := tray.New(cfg.Detector.Backend)
	t.OnToggle(func(running bool) {
		if running {
			a.Resume()
		} else {
			a.Pause()
		}
	})
	t.OnBackend(a.SetBackend)
	t.OnQuit(stop)
	a.Subscribe(t.Update)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
		t.Quit()
	}()

	t.Run()
	stop()
	return <-errCh
}

func logResults(a *app.App, log *zap.SugaredLogger) {
	var last string
	a.Subscribe(func(s app.State) {
		if s.BundleID == "" || s.BundleID == last {
			return
		}
		last = s.BundleID
		log.Debugw("result",
			"organik", s.Counts.Organik,
			"anorganik", s.Counts.Anorganik,
			"b3", s.Counts.B3,
			"inferenceMs", s.InferenceMs,
			"fps", s.FPS,
		)
	})
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig(args Args, log *zap.SugaredLogger) (*config.Config, error) {
	path := args.ConfigFile
	if path == "" {
		path = findConfigFile()
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.ParseConfigFile(path); err != nil {
			return nil, err
		}
		log.Infow("loaded config", "path", path)
	}

	if args.Camera >= 0 {
		cfg.Camera.DeviceID = args.Camera
	}
	if args.Model != "" {
		cfg.Detector.ModelPath = args.Model
	}
	if args.Labels != "" {
		cfg.Detector.LabelsPath = args.Labels
	}
	if args.Backend != "" {
		b, err := detector.ParseBackend(args.Backend)
		if err != nil {
			return nil, err
		}
		cfg.Detector.Backend = b
	}
	if args.Headless {
		cfg.UI.Headless = true
	}
	return cfg, nil
}

// findConfigFile searches for pilah.yaml in the working directory, its
// parents and ~/.pilah. Returns "" if none is found.
func findConfigFile() string {
	for _, dir := range []string{".", "..", "../.."} {
		p := filepath.Join(dir, configName)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(homeDir, ".pilah", configName)
	if info, err := os.Stat(p); err == nil && !info.IsDir() {
		return p
	}
	return ""
}
