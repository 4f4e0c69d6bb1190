// Command seq2seq trains and inspects attention-based sequence-to-sequence
// models.
//
// Usage:
//
//	seq2seq train [-config file.yaml] [-steps N] [-devices 0,1] [-text pairs.tsv] [-checkpoint model.s2s]
//	seq2seq inspect [-skip-checksum] model.s2s
//	seq2seq version
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const version = "v0.1.0-dev"

func usage() {
	fmt.Fprintf(os.Stderr, `seq2seq %s

Commands:
  train      Train a model on the synthetic copy task or on a tab-separated text file
  inspect    Print the header and tensors of a checkpoint
  version    Show version

Run "seq2seq <command> -h" for the flags of a command.
`, version)
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "train":
		err = trainCmd(ctx, args)
	case "inspect":
		err = inspectCmd(args)
	case "version":
		fmt.Printf("seq2seq %s\n", version)
	default:
		usage()
		klog.Exitf("unknown command %q", cmd)
	}
	klog.Flush()
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		klog.Exitf("%s failed: %+v", cmd, err)
	}
}
