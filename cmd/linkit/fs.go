package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"

	"github.com/chaz8081/linkit-go/internal/storage"
)

func (b *board) fsListCommand(c *cli.Context) error {
	path := "/"
	if c.NArg() > 0 {
		path = c.Args().First()
	}
	ctx := b.context()
	drive, err := b.drive(ctx)
	if err != nil {
		return err
	}
	dir, err := drive.Open(ctx, path, storage.ModeRead)
	if err != nil {
		return err
	}
	defer dir.Close()
	if !dir.IsDir() {
		return printEntry(dir)
	}
	for {
		f, err := dir.OpenNextFile(storage.ModeRead)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		err = printEntry(f)
		f.Close()
		if err != nil {
			return err
		}
	}
}

func printEntry(f *storage.File) error {
	if f.IsDir() {
		fmt.Printf("%10s  %s/\n", "-", Cyan(f.Name()))
		return nil
	}
	size, err := f.Size()
	if err != nil {
		return err
	}
	fmt.Printf("%10d  %s\n", size, f.Name())
	return nil
}

func (b *board) fsCatCommand(c *cli.Context) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	ctx := b.context()
	drive, err := b.drive(ctx)
	if err != nil {
		return err
	}
	f, err := drive.Open(ctx, c.Args().First(), storage.ModeRead)
	if err != nil {
		return err
	}
	defer f.Close()
	if f.IsDir() {
		return storage.ErrIsDirectory
	}
	_, err = io.Copy(os.Stdout, f)
	return err
}

func (b *board) fsPutCommand(c *cli.Context) error {
	if err := needArgs(c, 2); err != nil {
		return err
	}
	local, path := c.Args().Get(0), c.Args().Get(1)
	src, err := os.Open(local)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx := b.context()
	drive, err := b.drive(ctx)
	if err != nil {
		return err
	}
	if !c.Bool("append") {
		if ok, _ := drive.Exists(ctx, path); ok {
			if err := drive.Remove(ctx, path); err != nil {
				return err
			}
		}
	}
	dst, err := drive.Open(ctx, path, storage.ModeWrite)
	if err != nil {
		return err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, Green(fmt.Sprintf("wrote %d bytes to %s", n, path)))
	return nil
}

func (b *board) fsMkdirCommand(c *cli.Context) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	ctx := b.context()
	drive, err := b.drive(ctx)
	if err != nil {
		return err
	}
	return drive.Mkdir(ctx, c.Args().First())
}

func (b *board) fsRemoveCommand(c *cli.Context) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	path := c.Args().First()
	ctx := b.context()
	drive, err := b.drive(ctx)
	if err != nil {
		return err
	}
	f, err := drive.Open(ctx, path, storage.ModeRead)
	if err != nil {
		return err
	}
	dir := f.IsDir()
	f.Close()
	if dir {
		return drive.Rmdir(ctx, path)
	}
	return drive.Remove(ctx, path)
}
