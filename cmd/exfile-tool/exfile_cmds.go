package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhangjiangen11/iowow"
)

var (
	flagPath        string
	flagInitialSize int64
	flagOff         int64
	flagMaxlen      int64
	flagData        string
	flagSync        bool
)

func openFile(createIfMissing bool) (*exfile.File, error) {
	mode := exfile.ModeRead | exfile.ModeWrite
	if createIfMissing {
		mode |= exfile.ModeCreate
	}
	opts := exfile.DefaultOptions()
	opts.Path = flagPath
	opts.OpenMode = mode
	opts.InitialSize = flagInitialSize
	return exfile.Open(opts)
}

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open (creating if needed) a backing file and print its aligned size",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFile(true)
		if err != nil {
			return err
		}
		defer f.Close()

		st, err := f.State()
		if err != nil {
			return err
		}
		fmt.Printf("path=%s size=%d\n", flagPath, st.Size)
		return nil
	},
}

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Add a mmap slot at --off spanning --maxlen bytes, optionally writing --data through it",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFile(true)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := f.EnsureSize(flagOff + flagMaxlen); err != nil {
			return fmt.Errorf("EnsureSize: %w", err)
		}
		if err := f.AddMmap(flagOff, flagMaxlen); err != nil {
			return fmt.Errorf("AddMmap: %w", err)
		}

		data, length, err := f.GetMmap(flagOff)
		if err != nil {
			return fmt.Errorf("GetMmap: %w", err)
		}
		fmt.Printf("mapped off=%d len=%d\n", flagOff, length)

		if flagData != "" {
			n := copy(data, flagData)
			if err := f.SyncMmap(flagOff, exfile.SyncSync); err != nil {
				return fmt.Errorf("SyncMmap: %w", err)
			}
			fmt.Printf("wrote %d bytes through mapping\n", n)
		}
		return nil
	},
}

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write --data at --off via WriteAt (not through a mapping)",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFile(true)
		if err != nil {
			return err
		}
		defer f.Close()

		if _, err := f.WriteAt([]byte(flagData), flagOff); err != nil {
			return fmt.Errorf("WriteAt: %w", err)
		}
		if flagSync {
			if err := f.Sync(); err != nil {
				return fmt.Errorf("Sync: %w", err)
			}
		}
		fmt.Printf("wrote %d bytes at off=%d\n", len(flagData), flagOff)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the raw file, or the mmap slot at --off if --off is set",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFile(false)
		if err != nil {
			return err
		}
		defer f.Close()

		if cmd.Flags().Changed("off") {
			if err := f.SyncMmap(flagOff, exfile.SyncSync); err != nil {
				return fmt.Errorf("SyncMmap: %w", err)
			}
			fmt.Printf("synced mapping at off=%d\n", flagOff)
			return nil
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("Sync: %w", err)
		}
		fmt.Println("synced raw file")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{openCmd, mapCmd, writeCmd, syncCmd} {
		c.Flags().StringVar(&flagPath, "path", "", "backing file path (required)")
		_ = c.MarkFlagRequired("path")
	}

	openCmd.Flags().Int64Var(&flagInitialSize, "initial-size", 0, "grow the file to at least this many bytes on open")

	mapCmd.Flags().Int64Var(&flagOff, "off", 0, "slot offset, must be page-aligned")
	mapCmd.Flags().Int64Var(&flagMaxlen, "maxlen", 4096, "slot maximum length")
	mapCmd.Flags().StringVar(&flagData, "data", "", "bytes to write through the mapping after establishing it")

	writeCmd.Flags().Int64Var(&flagOff, "off", 0, "byte offset to write at")
	writeCmd.Flags().StringVar(&flagData, "data", "", "bytes to write")
	writeCmd.Flags().BoolVar(&flagSync, "fsync", false, "call Sync after writing")

	syncCmd.Flags().Int64Var(&flagOff, "off", 0, "slot offset to msync; if unset, syncs the raw file instead")
}
