package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const version = "0.3.0"

var (
	threadsFlag int
	verbosity   int
)

func main() {
	start := time.Now()
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
	fmt.Printf("total wall time: %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("peak RSS: %.1f MB\n", float64(peakRSSKb())/1024)
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "orion-kmer",
		Short:         "Extract, index, and compare canonical k-mer sets from DNA sequence files",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			switch {
			case verbosity >= 2:
				log.SetLevel(log.DebugLevel)
			case verbosity == 1:
				log.SetLevel(log.InfoLevel)
			default:
				log.SetLevel(log.WarnLevel)
			}
			log.SetOutput(os.Stderr)
		},
	}
	root.PersistentFlags().IntVarP(&threadsFlag, "threads", "t", 0, "number of worker threads (0 for all logical cores)")
	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "verbosity level (-v, -vv)")
	root.AddCommand(countCommand())
	root.AddCommand(buildCommand())
	root.AddCommand(compareCommand())
	root.AddCommand(queryCommand())
	root.AddCommand(classifyCommand())
	root.AddCommand(versionCommand())
	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("orion-kmer version %s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// numWorkers resolves the -t flag: 0 means one worker per logical
// core.
func numWorkers(flag int) int {
	if flag > 0 {
		return flag
	}
	return runtime.NumCPU()
}

func peakRSSKb() int64 {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return ru.Maxrss
}

// newProgressBar starts a bar on stderr so result streams on stdout
// stay clean.
func newProgressBar(total int) *pb.ProgressBar {
	bar := pb.Full.Start(total)
	bar.Set(pb.Bytes, false)
	bar.SetWriter(os.Stderr)
	return bar
}

// writeFileAtomic writes via fn to <path>.tmp and renames into place
// once fn and the flush succeed, so no partial result file is ever
// observable under the target path.
func writeFileAtomic(path string, fn func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return &OutputError{Path: path, Err: err}
	}
	defer func() {
		if f != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()
	bufw := bufio.NewWriter(f)
	if err := fn(bufw); err != nil {
		return &OutputError{Path: path, Err: err}
	}
	if err := bufw.Flush(); err != nil {
		return &OutputError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		f = nil
		os.Remove(tmp)
		return &OutputError{Path: path, Err: err}
	}
	f = nil
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &OutputError{Path: path, Err: err}
	}
	return nil
}
