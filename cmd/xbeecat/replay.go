package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lcx/xbee/codec"
	"github.com/lcx/xbee/net"
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture file>",
	Short: "Print the packets of a capture written by listen --record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		return replay(cmd.OutOrStdout(), f)
	},
}

func replay(w io.Writer, r io.Reader) error {
	rd := codec.NewReader(r)
	for n := 0; ; n++ {
		pkt := net.AcquirePacket()
		err := rd.Read(pkt)
		if errors.Is(err, io.EOF) {
			pkt.Release()
			return nil
		}
		if err != nil {
			pkt.Release()
			return fmt.Errorf("record %d: %w", n, err)
		}
		fmt.Fprintf(w, "%-16s ", pkt.ConnType)
		printPacket(w, pkt)
		pkt.Release()
	}
}

var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "List radio modes and their connection types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, name := range net.ModeNames() {
			m, err := net.LookupMode(name)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, m.Name)
			for _, t := range m.ConnTypeNames() {
				fmt.Fprintf(out, "  %s\n", t)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd, modesCmd)
}
