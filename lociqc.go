// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldqc

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
)

var errUsage = errors.New("usage error")

type lociQC struct {
	batchArgs
}

func (cmd *lociQC) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if errors.Is(err, errUsage) {
		fmt.Fprintf(stderr, "%s\n", err)
		return 2
	} else if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *lociQC) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg := defaultQCConfig()
	var method string
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	runlocal := flags.Bool("local", false, "run on local host (default: run in an arvados container)")
	arvadosRAM := flags.Int64("arvados-ram", 16000000000, "amount of memory to request for arvados container (`bytes`)")
	projectUUID := flags.String("project", "", "project `UUID` for output data")
	priority := flags.Int("priority", 500, "container request priority")
	preemptible := flags.Bool("preemptible", true, "request preemptible instance")
	inputFilename := flags.String("i", "", "input table `file` with columns locus_id, prefix, popu, cohort, sample_size")
	outputDir := flags.String("o", "./out", "output `directory`")
	configFile := flags.String("config", "", "TOML configuration `file` (command line flags take precedence)")
	flags.IntVar(&cfg.Threads, "threads", cfg.Threads, "number of loci to process concurrently, and number of VCPUs to request for arvados container")
	flags.Float64Var(&cfg.RTol, "r-tol", cfg.RTol, "treat LD eigenvalues below this `tolerance` as zero")
	flags.StringVar(&method, "method", cfg.Method, "s estimation `method`: null-mle, null-partialmle, or null-pseudomle")
	flags.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random `seed` for mixture model initialization (0 = random)")
	flags.IntVar(&cfg.MixtureMaxIter, "mixture-max-iter", cfg.MixtureMaxIter, "maximum mixture model EM iterations (0 = default)")
	flags.BoolVar(&cfg.Gzip, "gzip", cfg.Gzip, "gzip output tables")
	flags.IntVar(&cfg.EigenCacheSize, "eigen-cache", cfg.EigenCacheSize, "number of LD eigendecompositions to keep in memory")
	cmd.batchArgs.Flags(flags)
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return fmt.Errorf("%w: %s", errUsage, err)
	} else if flags.NArg() > 0 {
		return fmt.Errorf("%w: errant command line arguments after parsed flags: %v", errUsage, flags.Args())
	}
	if err = cmd.batchArgs.check(); err != nil {
		return err
	}
	cfg.Method = method

	if *configFile != "" {
		fromFlags := cfg
		cfg = defaultQCConfig()
		err = loadQCConfig(*configFile, &cfg)
		if err != nil {
			return err
		}
		flags.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "threads":
				cfg.Threads = fromFlags.Threads
			case "r-tol":
				cfg.RTol = fromFlags.RTol
			case "method":
				cfg.Method = fromFlags.Method
			case "seed":
				cfg.Seed = fromFlags.Seed
			case "mixture-max-iter":
				cfg.MixtureMaxIter = fromFlags.MixtureMaxIter
			case "gzip":
				cfg.Gzip = fromFlags.Gzip
			case "eigen-cache":
				cfg.EigenCacheSize = fromFlags.EigenCacheSize
			}
		})
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("%w: %s", errUsage, err)
	}
	if *inputFilename == "" {
		return fmt.Errorf("%w: -i is required", errUsage)
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if !*runlocal {
		runner := arvadosContainerRunner{
			Name:        "ldqc loci-qc",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         *arvadosRAM,
			VCPUs:       cfg.Threads,
			Priority:    *priority,
			KeepCache:   2,
			APIAccess:   true,
			Preemptible: *preemptible,
		}
		err = runner.TranslatePaths(inputFilename)
		if err != nil {
			return err
		}
		outputs, err := cmd.RunBatches(context.Background(), func(ctx context.Context, batch int) (string, error) {
			runner := runner
			runner.Args = append([]string{"loci-qc", "-local=true",
				"-i=" + *inputFilename,
				"-o=/mnt/output",
				fmt.Sprintf("-threads=%d", cfg.Threads),
				fmt.Sprintf("-r-tol=%g", cfg.RTol),
				"-method=" + cfg.Method,
				fmt.Sprintf("-seed=%d", cfg.Seed),
				fmt.Sprintf("-mixture-max-iter=%d", cfg.MixtureMaxIter),
				fmt.Sprintf("-gzip=%v", cfg.Gzip),
				fmt.Sprintf("-eigen-cache=%d", cfg.EigenCacheSize),
			}, cmd.batchArgs.Args(batch)...)
			return runner.RunContext(ctx)
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, strings.Join(outputs, " "))
		return nil
	}

	rows, err := readLociTable(*inputFilename)
	if err != nil {
		return err
	}
	ids, byID := cmd.batchArgs.Groups(rows)

	err = os.MkdirAll(*outputDir, 0777)
	if err != nil {
		return err
	}
	log.Infof("processing %d loci with %d threads", len(ids), cfg.Threads)
	failed, err := runLoci(ids, byID, *outputDir, cfg)
	if ferr := writeFailedLoci(filepath.Join(*outputDir, "failed_loci.txt"), ids, failed); ferr != nil {
		return ferr
	}
	return err
}

// runLoci runs QC on each locus group and writes its tables to
// outputDir/{locus_id}. A failure does not stop the other loci; the
// returned slice has an entry for each ID, nil on success.
func runLoci(ids []string, groups map[string][]lociTableRow, outputDir string, cfg qcConfig) ([]error, error) {
	cache := &eigenCache{MaxEntries: cfg.EigenCacheSize}
	failed := make([]error, len(ids))
	th := throttle{Max: cfg.Threads}
	var done, nfailed int64
	for i, id := range ids {
		i, id := i, id
		th.Go(func() error {
			err := runLocus(groups[id], filepath.Join(outputDir, id), cfg, cache)
			n := atomic.AddInt64(&done, 1)
			if err != nil {
				atomic.AddInt64(&nfailed, 1)
				failed[i] = err
				log.WithField("locus", id).Errorf("failed (%d/%d): %s", n, len(ids), err)
				return err
			}
			log.WithField("locus", id).Infof("done (%d/%d)", n, len(ids))
			return nil
		})
	}
	err := th.Wait()
	hits, misses := cache.Stats()
	log.Debugf("eigen cache: %d hits, %d misses", hits, misses)
	if err != nil {
		return failed, fmt.Errorf("%d of %d loci failed, first error: %w", nfailed, len(ids), err)
	}
	return failed, nil
}

func runLocus(rows []lociTableRow, dir string, cfg qcConfig, cache *eigenCache) error {
	set, err := loadLocusSet(rows)
	if err != nil {
		return err
	}
	results, err := locusQC(set, cfg, cache)
	if err != nil {
		return err
	}
	return results.WriteDir(dir, cfg.Gzip)
}

// writeFailedLoci writes the ID and error of each failed locus, one
// per line. If nothing failed, any existing file is removed.
func writeFailedLoci(fnm string, ids []string, failed []error) error {
	var lines []string
	for i, err := range failed {
		if err != nil {
			lines = append(lines, ids[i]+"\t"+strings.ReplaceAll(err.Error(), "\n", " "))
		}
	}
	if len(lines) == 0 {
		err := os.Remove(fnm)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	for _, line := range lines {
		fmt.Fprintln(bufw, line)
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}
