package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mailkite/filtra/engine"
)

func handleCheck() {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	filtersPath := fs.String("filters", "filters.json", "Path to JSON filter file")
	fs.Usage = func() {
		fmt.Println("Usage: filtra check [--filters filters.json]")
		fmt.Println("Validates and compiles a filter file without touching any mail.")
	}
	fs.Parse(os.Args[2:])

	filters, err := engine.LoadFiltersFile(*filtersPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", *filtersPath, err)
		os.Exit(2)
	}
	if err := engine.Compile(filters); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", *filtersPath, err)
		os.Exit(2)
	}

	for i, f := range filters {
		var ops []string
		if f.Op.Rm.All {
			ops = append(ops, "rm:all")
		} else if len(f.Op.Rm.Tags) > 0 {
			ops = append(ops, fmt.Sprintf("rm:%s", strings.Join(f.Op.Rm.Tags, ",")))
		}
		if len(f.Op.Add) > 0 {
			ops = append(ops, fmt.Sprintf("add:%s", strings.Join(f.Op.Add, ",")))
		}
		if len(f.Op.Run) > 0 {
			ops = append(ops, fmt.Sprintf("run:%s", f.Op.Run[0]))
		}
		if f.Op.Del {
			ops = append(ops, "del")
		}
		if len(ops) == 0 {
			ops = append(ops, "none")
		}
		fmt.Printf("%3d  %-24s %d rule(s)  %s\n", i+1, f.DisplayName(), len(f.Rules), strings.Join(ops, " "))
	}
	fmt.Printf("%d filter(s) OK\n", len(filters))
}
