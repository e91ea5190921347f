package main

// storeinspect is a small CLI for poking at an on-disk store without writing
// Go code: open it in "read" mode, list the registered sub-stores, and print
// per-collection counts either as a table or as JSON. It writes no documents,
// but closing the store rewrites its meta record. It plays the role the
// teacher's arena-cache-inspect played for a running cache process, adapted
// for a store that lives on disk rather than behind an HTTP debug endpoint.
//
// Usage:
//
//	storeinspect -path ./data
//	storeinspect -path ./data -json
//	storeinspect -doc-uri ./data.badger -json
//
// © msm-tis authors.

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	store "github.com/jhprinz/msm-tis/pkg"
)

type options struct {
	path   string
	docURI string
	json   bool
}

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.path, "path", "", "path to an array-backed file store directory")
	flag.StringVar(&opts.docURI, "doc-uri", "", "directory for a document-backed (Badger) store instead of -path")
	flag.BoolVar(&opts.json, "json", false, "emit JSON instead of a table")
	flag.Parse()
	return opts
}

type report struct {
	Path          string                `json:"path"`
	HighWaterMark uint64                `json:"high_water_mark"`
	SubStores     []store.CollectionInfo `json:"sub_stores"`
}

func main() {
	opts := parseFlags()
	if opts.path == "" && opts.docURI == "" {
		fatal(fmt.Errorf("one of -path or -doc-uri is required"))
	}

	var storeOpts []store.Option
	target := opts.path
	if opts.docURI != "" {
		storeOpts = append(storeOpts, store.WithDocumentURI(opts.docURI))
		target = opts.docURI
	}

	s, err := store.Open(opts.path, "read", storeOpts...)
	if err != nil {
		fatal(err)
	}
	defer s.Close()

	cols, err := s.Collections()
	if err != nil {
		fatal(err)
	}
	rep := report{Path: target, HighWaterMark: store.HighWaterMark(), SubStores: cols}

	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fatal(err)
		}
		return
	}

	fmt.Printf("store:            %s\n", rep.Path)
	fmt.Printf("high water mark:  %d\n", rep.HighWaterMark)
	fmt.Printf("%-20s %-16s %s\n", "SUB-STORE", "TAG", "COUNT")
	for _, c := range rep.SubStores {
		fmt.Printf("%-20s %-16s %d\n", c.Name, c.Tag, c.Count)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "storeinspect:", err)
	os.Exit(1)
}
