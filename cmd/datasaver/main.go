package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/usnistgov/datasaver"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err2 := os.MkdirAll(dir, 0775); err2 != nil {
			return "", err2
		}
	}

	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// startLogger returns a logger writing to a rotated file, and also to echo
// if it is not nil.
func startLogger(pfname string, echo io.Writer) *log.Logger {
	var w io.Writer = &lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	}
	if echo != nil {
		w = io.MultiWriter(w, echo)
	}
	return log.New(w, "", log.LstdFlags)
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	datasaver.Build.Date = buildDate
	datasaver.Build.Githash = githash

	printVersion := flag.Bool("version", false, "print version and quit")
	logdir := flag.String("logdir", "$HOME/.datasaver/logs", "directory for the problems and updates logs")
	metricsFile := flag.String("metrics", "", "write Prometheus metrics in text format to this file when done")
	flag.Usage = func() {
		fmt.Println("datasaver, a program to lay out a data file and fill it in one write session")
		fmt.Println("Usage: datasaver [flags] runfile.yaml")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is datasaver version %s\n", datasaver.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		os.Exit(0)
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := readRunFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Log problems and updates to 2 log files.
	problemname, err := makeFileExist(*logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(*logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	var echo io.Writer
	if cfg.Verbose {
		echo = os.Stdout
	}
	datasaver.ProblemLogger = startLogger(problemname, os.Stderr)
	datasaver.UpdateLogger = startLogger(logname, echo)
	datasaver.UpdateLogger.Printf("This is datasaver version %s (git commit %s), run file %s",
		datasaver.Build.Version, githash, filepath.Clean(flag.Arg(0)))

	reg := prometheus.NewRegistry()
	runErr := execute(cfg, reg)
	if *metricsFile != "" {
		if err := prometheus.WriteToTextfile(*metricsFile, reg); err != nil {
			datasaver.ProblemLogger.Printf("Could not write metrics: %v", err)
		}
	}
	if runErr != nil {
		datasaver.ProblemLogger.Printf("Run failed: %v", runErr)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", cfg.Path)
}
