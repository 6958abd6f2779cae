// Persistit CLI opens a store and runs a small set of administrative
// tasks against it: dump a tree's key count, verify its integrity, or
// export/import a tree to a flat file. It replaces the teacher's gRPC
// server bring-up with a one-shot tool, since this engine is a library
// meant to be embedded rather than run as a service.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/nainya/persistit/pkg/engine"
	"github.com/nainya/persistit/pkg/exchange"
	"github.com/nainya/persistit/pkg/page"
)

var (
	dataPath = flag.String("db", "persistit.db", "volume file path")
	journal  = flag.String("journal", "persistit.journal", "journal file path")
	volName  = flag.String("volume", "main", "volume name")
	treeName = flag.String("tree", "default", "tree name")
	task     = flag.String("task", "stat", "task to run: stat, icheck, export, import, removetree")
	dumpPath = flag.String("dump", "", "file path for export/import tasks")
)

func main() {
	flag.Parse()

	cfg := engine.DefaultConfig()
	cfg.JournalPath = *journal
	cfg.Volumes = []engine.VolumeSpec{{Name: *volName, Path: *dataPath, PageSize: page.DefaultPageSize, Create: true}}

	eng, err := engine.Open(cfg)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer eng.Close()

	tree, err := eng.OpenTree(*volName, *treeName)
	if err != nil {
		log.Fatalf("open tree: %v", err)
	}

	switch *task {
	case "stat":
		runStat(eng, tree)
	case "icheck":
		runICheck(eng, tree)
	case "export":
		runExport(eng, tree, *dumpPath)
	case "import":
		runImport(eng, tree, *dumpPath)
	case "removetree":
		runRemoveTree(eng)
	default:
		log.Fatalf("unknown task %q", *task)
	}
}

func runStat(eng *engine.Engine, tree *engine.Tree) {
	ex := tree.NewExchange()
	ex.Clear()
	count := 0
	ex.Traverse(exchange.Forward, func(k exchange.Key, v []byte) bool {
		count++
		return true
	})
	fmt.Printf("tree %q: %d keys\n", tree.Name, count)
}

func runICheck(eng *engine.Engine, tree *engine.Tree) {
	if err := eng.IntegrityCheck(tree); err != nil {
		log.Fatalf("integrity check failed: %v", err)
	}
	fmt.Println("integrity check passed")
}

func runExport(eng *engine.Engine, tree *engine.Tree, path string) {
	if path == "" {
		log.Fatal("export requires -dump")
	}
	r, err := eng.ExportRange(tree, nil)
	if err != nil {
		log.Fatalf("export: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("create dump file: %v", err)
	}
	defer f.Close()
	if _, err := f.ReadFrom(r); err != nil {
		log.Fatalf("write dump file: %v", err)
	}
	fmt.Printf("exported tree %q to %s\n", tree.Name, path)
}

func runRemoveTree(eng *engine.Engine) {
	if err := eng.RemoveTree(*volName, *treeName); err != nil {
		log.Fatalf("remove tree: %v", err)
	}
	fmt.Printf("removed tree %q from volume %q\n", *treeName, *volName)
}

func runImport(eng *engine.Engine, tree *engine.Tree, path string) {
	if path == "" {
		log.Fatal("import requires -dump")
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("open dump file: %v", err)
	}
	defer f.Close()
	if err := eng.Import(tree, f); err != nil {
		log.Fatalf("import: %v", err)
	}
	fmt.Printf("imported into tree %q from %s\n", tree.Name, path)
}
