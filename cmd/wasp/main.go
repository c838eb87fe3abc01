package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"wasp/pkg/annotation"
	"wasp/pkg/config"
	"wasp/pkg/events"
	"wasp/pkg/logging"
	"wasp/pkg/reference"
	"wasp/pkg/volume"
	"wasp/pkg/wasp"
)

type options struct {
	mode          string
	input         string
	importPath    string
	fiducials     string
	output        string
	reference     string
	saveReference bool
}

func main() {
	configPath := flag.String("config", "wasp.yaml", "Configuration file (.yaml or .toml)")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file and exit")
	storeDir := flag.String("store", "wasp-data", "Directory holding the session volumes")
	previewDir := flag.String("preview", "", "Directory for PNG previews (overrides the configuration)")

	var opts options
	flag.StringVar(&opts.mode, "mode", "watershed", "Operation: watershed or annotate")
	flag.StringVar(&opts.input, "input", "", "Name of the volume to segment")
	flag.StringVar(&opts.importPath, "import", "", "NRRD file to add to the store before running")
	flag.StringVar(&opts.fiducials, "fiducials", "", "Fiducial list (.fcsv) for annotate mode")
	flag.StringVar(&opts.output, "output", "merged", "Name of the merged label volume")
	flag.StringVar(&opts.reference, "reference", "", "Reference label ordering file")
	flag.BoolVar(&opts.saveReference, "save-reference", false, "Write the extended reference ordering back")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *previewDir != "" {
		cfg.Output.PreviewDir = *previewDir
	}

	logger, err := logging.FromOptions(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	store, err := volume.NewDirStore(*storeDir, true, logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("WASP: Watershed Annotation and Segmentation")
	fmt.Println("================================")

	loop := events.NewLoop()
	logic, err := wasp.New(wasp.Options{
		Config:    cfg,
		Store:     store,
		Surface:   newConsoleSurface(os.Stdout, logger),
		Scheduler: loop,
		Log:       logger,
	})
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	// The first interrupt cancels the run; it finishes at the next check.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	go func() {
		for range interrupts {
			loop.Post(logic.Cancel)
		}
	}()

	code := 0
	go func() {
		defer loop.Quit()
		if err := run(loop, logic, store, opts); err != nil {
			logger.Error("main", err, nil)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			code = 1
		}
	}()

	// The main goroutine is the UI thread.
	loop.Run(context.Background())
	logic.Close()
	logger.Close()
	os.Exit(code)
}

func run(loop *events.Loop, logic *wasp.Logic, store volume.Store, opts options) error {
	if opts.importPath != "" {
		name, err := importVolume(store, opts.importPath)
		if err != nil {
			return err
		}
		if opts.input == "" {
			opts.input = name
		}
	}

	start := time.Now()
	switch opts.mode {
	case "watershed":
		if err := watershed(loop, logic, opts); err != nil {
			return err
		}
	case "annotate":
		if err := annotate(loop, logic, opts); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown mode %q (must be watershed or annotate)", opts.mode)
	}
	fmt.Printf("\nFinished in %.2f seconds\n", time.Since(start).Seconds())
	return nil
}

// start runs fn on the UI goroutine and returns its result.
func start(loop *events.Loop, fn func() (bool, error)) error {
	var ok bool
	var err error
	if !loop.DoAndWait(func() { ok, err = fn() }) {
		return fmt.Errorf("user interface loop has stopped")
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("run was not started")
	}
	return nil
}

func waitIdle(logic *wasp.Logic) {
	for !logic.Idle() {
		time.Sleep(10 * time.Millisecond)
	}
}

func watershed(loop *events.Loop, logic *wasp.Logic, opts options) error {
	if opts.input == "" {
		return fmt.Errorf("-input is required in watershed mode")
	}
	if err := start(loop, func() (bool, error) { return logic.RunWatershed(opts.input) }); err != nil {
		return err
	}
	res := logic.WaitWatershed()
	waitIdle(logic)

	fmt.Printf("\nWatershed levels produced: %d\n", len(res.Volumes))
	for _, lr := range res.Levels {
		fmt.Printf("- %-14s %6s components, largest %s voxels\n",
			lr.Volume, humanize.Comma(int64(lr.Components)), humanize.Comma(int64(lr.Largest)))
		preview(logic, lr.Volume)
	}
	if len(res.Levels) > 0 {
		fmt.Printf("Components per level: %.1f ± %.1f\n", res.MeanComponents, res.StdComponents)
	}
	if res.Aborted {
		fmt.Println("Sweep aborted")
	}
	return res.Err
}

func annotate(loop *events.Loop, logic *wasp.Logic, opts options) error {
	if opts.fiducials == "" {
		return fmt.Errorf("-fiducials is required in annotate mode")
	}
	set, err := annotation.ReadFCSVFile(opts.fiducials)
	if err != nil {
		return err
	}
	var ref *reference.Ordering
	if opts.reference != "" {
		if ref, err = reference.Load(opts.reference); err != nil {
			return err
		}
	}

	if err := start(loop, func() (bool, error) { return logic.RunAnnotation(set, opts.output, ref) }); err != nil {
		return err
	}
	res, err := logic.WaitAnnotation()
	if err != nil {
		waitIdle(logic)
		return err
	}
	files, modelErr := logic.WaitModels()
	waitIdle(logic)

	names := make([]string, 0, len(res.Dictionary))
	for n := range res.Dictionary {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return res.Dictionary[names[i]] < res.Dictionary[names[j]] })
	fmt.Printf("\nLabels written to %s:\n", res.OutputName)
	for _, n := range names {
		fmt.Printf("- %3d %s\n", res.Dictionary[n], n)
	}
	if len(files) > 0 {
		fmt.Printf("Models: %s\n", strings.Join(files, ", "))
	}
	preview(logic, res.OutputName)

	if ref != nil && opts.saveReference {
		if err := ref.Save(opts.reference); err != nil {
			return err
		}
		fmt.Printf("Reference ordering saved to %s\n", opts.reference)
	}
	return modelErr
}

func preview(logic *wasp.Logic, name string) {
	path, err := logic.Preview(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}
	if path != "" {
		fmt.Printf("  preview: %s\n", path)
	}
}

// importVolume copies an NRRD file into the store, named after the file.
func importVolume(store volume.Store, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	vol, err := volume.ReadNRRD(f, name)
	if err != nil {
		return "", fmt.Errorf("importing %s: %w", path, err)
	}
	if err := store.Write(vol); err != nil {
		return "", err
	}
	return name, nil
}
