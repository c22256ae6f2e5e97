package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/devblok/korurt/utility/kar"
)

func pack(env *environment, args []string) error {
	fs := env.flags("pack", "<dir>")
	out := fs.String("o", "", "archive to write")
	author := fs.String("author", os.Getenv("USER"), "author recorded in the header")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" || fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	builder, err := kar.NewBuilder(kar.Header{
		Author:      *author,
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	if err != nil {
		return err
	}
	defer builder.Close()
	if err := builder.AddDir(fs.Arg(0)); err != nil {
		return err
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	n, err := builder.WriteTo(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(*out)
		return err
	}

	env.log.WithField("archive", *out).Debug("archive written")
	fmt.Fprintf(env.stdout, "packed %d files into %s (%d bytes)\n", builder.Len(), *out, n)
	return nil
}

func ls(env *environment, args []string) error {
	fs := env.flags("ls", "<archive>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	ar, err := kar.OpenFile(fs.Arg(0))
	if err != nil {
		return err
	}
	defer ar.Close()

	header := ar.Header()
	fmt.Fprintf(env.stdout, "author %s, version %d, created %s\n", header.Author, header.Version,
		time.Unix(header.DateCreated, 0).UTC().Format(time.RFC3339))
	w := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	for _, e := range header.Index {
		fmt.Fprintf(w, "%s\t%d\t%d\n", e.Name, e.Size, e.CompressedSize)
	}
	return w.Flush()
}
