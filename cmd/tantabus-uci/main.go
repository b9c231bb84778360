package main

import (
	"flag"
	"os"
	"path/filepath"
	"runtime/pprof"

	"github.com/rs/zerolog/log"

	"github.com/tantabus/engine/internal/engine"
	"github.com/tantabus/engine/internal/uci"
)

// defaultNetName is the weight file name searched for in the standard
// install locations when -evalfile is not given explicitly.
const defaultNetName = "tantabus.nnue"

var (
	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to file")
	hashMB     = flag.Int("hash", 16, "transposition table size in MB")
	threads    = flag.Int("threads", 1, "number of search worker threads")
	evalFile   = flag.String("evalfile", "", "path to NNUE weights file")
)

func main() {
	flag.Parse()

	// Start CPU profiling if requested (via flag or environment variable)
	profilePath := *cpuprofile
	if profilePath == "" {
		profilePath = os.Getenv("CPUPROFILE")
	}
	if profilePath != "" {
		f, err := os.Create(profilePath)
		if err != nil {
			log.Fatal().Err(err).Msg("could not create CPU profile")
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
		log.Info().Str("path", profilePath).Msg("CPU profiling enabled")
	}

	eng := engine.NewEngine(*hashMB)
	eng.SetThreads(*threads)

	path := *evalFile
	if path == "" {
		path = findDefaultNetwork()
	}
	if path != "" {
		if err := eng.LoadNNUE(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("NNUE not loaded, using classical evaluation")
		} else {
			eng.SetUseNNUE(true)
			log.Info().Str("path", path).Msg("NNUE loaded")
		}
	}

	protocol := uci.New(eng)
	protocol.Run()
}

// findDefaultNetwork searches standard install locations for the default
// NNUE weight file.
func findDefaultNetwork() string {
	searchPaths := []string{
		filepath.Join(getConfigDir(), "tantabus", "nnue"),
		"./nnue",
		".",
	}

	for _, dir := range searchPaths {
		path := filepath.Join(dir, defaultNetName)
		if fileExists(path) {
			return path
		}
	}

	return ""
}

// getConfigDir returns the user's configuration directory.
func getConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return dir
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
