// Command packctl is a diagnostic CLI for inspecting and creating pack
// store files: dump a page range, create a new store from a manifest,
// or force a vacuum pass.
package main

import (
	"flag"
	"fmt"
	"os"

	pack "github.com/blockpack/pack"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "packctl - inspect and manage pack store files\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s inspect <path>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s create -manifest <manifest.toml> <path>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s vacuum <path>\n", os.Args[0])
	}
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "inspect":
		err = runInspect(args[1:])
	case "create":
		err = runCreate(args[1:])
	case "vacuum":
		err = runVacuum(args[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "packctl: %v\n", err)
		os.Exit(1)
	}
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("inspect requires exactly one store path")
	}

	p, err := pack.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer p.Close()

	infos, err := p.InspectRange()
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Printf("%10d  %-14s  fp=%016x  records=%-4d live=%-6d remaining=%-6d slots=%d/%d next=%d\n",
			info.Position, info.Kind, info.Fingerprint, info.RecordCount,
			info.LiveBytes, info.BytesRemaining, info.LiveSlots, info.Slots, info.Next)
	}
	return nil
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	manifest := fs.String("manifest", "", "path to a TOML manifest describing page size, checksums, and static blocks")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("create requires exactly one store path")
	}

	c := pack.NewCreator()
	if *manifest != "" {
		if _, err := c.LoadManifest(*manifest); err != nil {
			return err
		}
	}
	p, err := c.Create(fs.Arg(0))
	if err != nil {
		return err
	}
	return p.Close()
}

func runVacuum(args []string) error {
	fs := flag.NewFlagSet("vacuum", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("vacuum requires exactly one store path")
	}

	p, err := pack.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer p.Close()

	result, err := p.Vacuum()
	if err != nil {
		return err
	}
	fmt.Printf("considered=%d merged=%d reclaimed=%d\n",
		result.PagesConsidered, result.PagesMerged, result.PagesReclaimed)
	return nil
}
