package main

import (
	"flag"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/zsiec/asfdemux/internal/asf"
	"github.com/zsiec/asfdemux/internal/config"
	"github.com/zsiec/asfdemux/internal/report"
	"github.com/zsiec/asfdemux/internal/source"
)

func probeCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	pb := fs.Bool("pb", false, "write length-delimited protobuf reports instead of text")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	for i, path := range fs.Args() {
		rep, err := probe(path, cfg.DemuxOptions()...)
		if err != nil {
			return err
		}
		if *pb {
			msg := report.Marshal(rep)
			buf := protowire.AppendVarint(nil, uint64(len(msg)))
			if _, err := stdout.Write(append(buf, msg...)); err != nil {
				return err
			}
			continue
		}
		if i > 0 {
			fmt.Fprintln(stdout)
		}
		fmt.Fprintf(stdout, "%s:\n", path)
		if err := report.WriteText(stdout, rep); err != nil {
			return err
		}
	}
	return nil
}

// probe reads the header of the file at path.
func probe(path string, opts ...asf.Option) (report.Report, error) {
	src, err := source.OpenFile(path)
	if err != nil {
		return report.Report{}, err
	}
	defer src.Close()

	facts, err := asf.NewDemuxer(src, opts...).Open()
	if err != nil {
		return report.Report{}, fmt.Errorf("%s: %w", path, err)
	}
	return report.FromFacts(facts), nil
}
