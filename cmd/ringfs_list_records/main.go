package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/dsoprea/go-ringfs"
)

type rootParameters struct {
	Filepath    string `short:"f" long:"filepath" description:"File-path of ring image" required:"true"`
	SectorSize  uint32 `short:"s" long:"sector-size" description:"Sector size in bytes" default:"4096"`
	SectorCount uint32 `short:"c" long:"sector-count" description:"Partition length in sectors" default:"16"`
	ObjectSize  int    `short:"o" long:"object-size" description:"Record size in bytes" default:"252"`
	Version     uint32 `short:"v" long:"version" description:"Schema version" default:"1"`
	ShowText    bool   `short:"t" long:"text" description:"Also show payloads as text"`
}

var (
	rootArguments = new(rootParameters)
)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	ff, err := ringfs.OpenFileFlash(rootArguments.Filepath, rootArguments.SectorSize)
	log.PanicIf(err)

	defer ff.Close()

	geometry := ringfs.Geometry{
		SectorSize:   rootArguments.SectorSize,
		SectorOffset: 0,
		SectorCount:  rootArguments.SectorCount,
	}

	rfs, err := ringfs.NewRingFS(ff, geometry, rootArguments.Version, rootArguments.ObjectSize)
	log.PanicIf(err)

	err = rfs.Scan()
	log.PanicIf(err)

	// Fetching only moves the in-RAM cursor; listing never mutates the
	// image.

	object := make([]byte, rfs.ObjectSize())

	i := 0

	for {
		err := rfs.Fetch(object)
		if err == ringfs.ErrNoMoreRecords {
			break
		}

		log.PanicIf(err)

		if rootArguments.ShowText == true {
			fmt.Printf("%6d: [% x] [%s]\n", i, object, printableString(object))
		} else {
			fmt.Printf("%6d: [% x]\n", i, object)
		}

		i++
	}

	fmt.Printf("(%d) records.\n", i)
}

func printableString(data []byte) string {
	printable := make([]byte, len(data))

	for i, c := range data {
		if c >= 0x20 && c <= 0x7e {
			printable[i] = c
		} else {
			printable[i] = '.'
		}
	}

	return string(printable)
}
