// jpfsctl manipulates a dual-region jpfs flash image on the host. The
// image holds both log regions back to back, so it can be flashed to a
// device as-is.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/keks/jpfs"
	"github.com/keks/jpfs/flashsim"
	"github.com/keks/jpfs/journal"
)

var (
	imagePath  string
	regionSize int
	pageSize   int
	bitDefault int
	verbose    bool
)

func mount() (*journal.FS, *flashsim.FileDevice, error) {
	dev, err := flashsim.OpenFile(imagePath, 2*regionSize, pageSize, bitDefault)
	if err != nil {
		return nil, nil, err
	}

	var opts []journal.Option
	if verbose {
		stdr.SetVerbosity(2)
		opts = append(opts, journal.WithLogger(stdr.New(log.New(os.Stderr, "", 0))))
	}

	fs, err := journal.Mount(dev, 0, uint32(regionSize), regionSize, opts...)
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	return fs, dev, nil
}

func main() {
	root := &cobra.Command{
		Use:           "jpfsctl",
		Short:         "inspect and modify jpfs flash images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&imagePath, "image", "i", "jpfs.img", "flash image file")
	pf.IntVar(&regionSize, "region-size", 4096, "size of each log region in bytes")
	pf.IntVar(&pageSize, "page-size", 4096, "flash erase page size in bytes")
	pf.IntVar(&bitDefault, "bit-default", 1, "bit value after erase (0 or 1)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log engine diagnostics to stderr")

	root.AddCommand(
		formatCmd(),
		putCmd(),
		getCmd(),
		rmCmd(),
		lsCmd(),
		infoCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "jpfsctl:", err)
		os.Exit(1)
	}
}

func formatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "format",
		Short: "create an empty image, replacing any existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.Remove(imagePath); err != nil && !os.IsNotExist(err) {
				return err
			}
			// mounting a blank image initializes the first region
			fs, dev, err := mount()
			if err != nil {
				return err
			}
			defer dev.Close()
			fmt.Printf("%s: 2x%d bytes, %d blocks per region\n",
				imagePath, regionSize, fs.NumBlocks())
			return nil
		},
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <ufid> [file]",
		Short: "store a payload from a file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ufid, err := jpfs.ParseUFID(args[0])
			if err != nil {
				return err
			}
			var data []byte
			if len(args) == 2 {
				data, err = os.ReadFile(args[1])
			} else {
				data, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return err
			}
			fs, dev, err := mount()
			if err != nil {
				return err
			}
			defer dev.Close()
			return fs.Save(ufid, data)
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <ufid>",
		Short: "print a stored payload to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ufid, err := jpfs.ParseUFID(args[0])
			if err != nil {
				return err
			}
			fs, dev, err := mount()
			if err != nil {
				return err
			}
			defer dev.Close()
			buf := make([]byte, jpfs.MaxFileSize)
			n, err := fs.Read(ufid, buf)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(buf[:n])
			return err
		},
	}
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <ufid>",
		Short: "remove a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ufid, err := jpfs.ParseUFID(args[0])
			if err != nil {
				return err
			}
			fs, dev, err := mount()
			if err != nil {
				return err
			}
			defer dev.Close()
			return fs.Remove(ufid)
		},
	}
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "list live files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, dev, err := mount()
			if err != nil {
				return err
			}
			defer dev.Close()
			for _, fi := range fs.Files() {
				fmt.Printf("%s %4d\n", fi.UFID, fi.Size)
			}
			return nil
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "show journal state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, dev, err := mount()
			if err != nil {
				return err
			}
			defer dev.Close()
			fmt.Printf("image:        %s\n", imagePath)
			fmt.Printf("region size:  %d bytes (%d blocks)\n", regionSize, fs.NumBlocks())
			fmt.Printf("active:       region %d\n", fs.Active())
			fmt.Printf("free:         %d blocks\n", fs.FreeBlocks())
			fmt.Printf("files:        %d\n", len(fs.Files()))
			return nil
		},
	}
}
