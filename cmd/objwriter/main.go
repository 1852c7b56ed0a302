// Package main provides the objwriter command: it assembles a native object
// file (COFF/ELF/Mach-O) from a JSON manifest describing sections, symbols,
// code blobs, debug info and unwind data.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fsnotify/fsnotify"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		outPath     = flag.String("o", "out.obj", "output object file path")
		formatName  = flag.String("format", "", "object format: coff|elf|macho (default: manifest setting or coff)")
		watch       = flag.Bool("watch", false, "re-emit the object whenever the manifest changes")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("objwriter v%s (%s)\n", version, commit)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Println("Error: No manifest specified")
		showUsage()
		os.Exit(1)
	}
	manifestPath := args[0]

	if err := emitFromManifest(manifestPath, *outPath, *formatName); err != nil {
		log.Fatalf("Emission failed: %v", err)
	}
	log.Printf("wrote %s", *outPath)

	if *watch {
		if err := watchLoop(manifestPath, *outPath, *formatName); err != nil {
			log.Fatalf("Watch failed: %v", err)
		}
	}
}

func showUsage() {
	fmt.Println("objwriter - native object file emission")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("    objwriter [OPTIONS] <MANIFEST.json>")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("    --version   Show version information")
	fmt.Println("    -o          Output object file path (default out.obj)")
	fmt.Println("    --format    Object format: coff|elf|macho")
	fmt.Println("    --watch     Re-emit whenever the manifest changes")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("    objwriter -o hello.obj hello.json")
	fmt.Println("    objwriter --format elf -o hello.o --watch hello.json")
}

// watchLoop re-runs emission on every write to the manifest. Emission errors
// are reported and the loop keeps watching; only watcher failures terminate.
func watchLoop(manifestPath, outPath, formatName string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(manifestPath); err != nil {
		return err
	}
	log.Printf("watching %s", manifestPath)

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := emitFromManifest(manifestPath, outPath, formatName); err != nil {
				log.Printf("emission failed: %v", err)
				continue
			}
			log.Printf("rewrote %s", outPath)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
