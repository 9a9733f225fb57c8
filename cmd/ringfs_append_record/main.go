package main

import (
	"fmt"
	"os"

	"encoding/hex"

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
	Text        string `short:"t" long:"text" description:"Payload as literal text"`
	Hex         string `short:"x" long:"hex" description:"Payload as hex"`
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

	var payload []byte

	if rootArguments.Hex != "" {
		payload, err = hex.DecodeString(rootArguments.Hex)
		log.PanicIf(err)
	} else if rootArguments.Text != "" {
		payload = []byte(rootArguments.Text)
	} else {
		fmt.Printf("No payload given.\n")
		os.Exit(2)
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

	at := rfs.WritePosition()

	err = rfs.Append(payload)
	log.PanicIf(err)

	fmt.Printf("Appended (%d) bytes at %s.\n", len(payload), at)
}
