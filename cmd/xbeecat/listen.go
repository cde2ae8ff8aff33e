package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lcx/xbee/codec"
	"github.com/lcx/xbee/log"
	"github.com/lcx/xbee/net"
)

var (
	connType   string
	connAddr   string
	connEP     string
	recordPath string
	catchAll   bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print inbound packets of one connection type",
	Example: `  xbeecat listen --serial /dev/ttyUSB0 --type "16-bit Data" --addr 0x0001
  xbeecat listen --tcp 10.0.0.5:2000 -m xbee2 --type Data --catch-all --record capture.bin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(connAddr, connEP)
		if err != nil {
			return err
		}
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		c, err := e.Connect(connType, addr, nil)
		if err != nil {
			return err
		}
		if catchAll {
			s := c.Settings()
			s.CatchAll = true
			if _, err := c.SetSettings(s); err != nil {
				return err
			}
		}

		var rec *codec.Writer
		if recordPath != "" {
			f, err := os.Create(recordPath)
			if err != nil {
				return err
			}
			defer f.Close()
			rec = codec.NewWriter(f)
		}

		out := cmd.OutOrStdout()
		err = c.SetReceiver(net.ReceiverFunc(func(c *net.Conn, pkt *net.Packet) net.Disposition {
			printPacket(out, pkt)
			if rec != nil {
				if err := rec.Write(pkt); err != nil {
					log.Error().Err(err).Msg("failed to record packet")
				}
			}
			return net.Release
		}))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		log.Info().Str("connType", c.Type()).Str("addr", c.Address().String()).Msg("listening")
		<-ctx.Done()
		return c.End()
	},
}

func printPacket(w io.Writer, pkt *net.Packet) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s]", pkt.Timestamp.Format("15:04:05.000"), pkt.Address)
	if pkt.ATCommand != "" {
		fmt.Fprintf(&sb, " %s status=%d", pkt.ATCommand, pkt.Status)
	}
	if pkt.RSSI != 0 {
		fmt.Fprintf(&sb, " rssi=-%ddBm", pkt.RSSI)
	}
	for _, key := range pkt.SampleKeys() {
		for _, ch := range pkt.SampleChannels(key) {
			v, _ := pkt.Samples(key, ch)
			fmt.Fprintf(&sb, " %s%d=%v", key, ch, v)
		}
	}
	if len(pkt.Data) > 0 {
		fmt.Fprintf(&sb, " %q", pkt.Data)
	}
	fmt.Fprintln(w, sb.String())
}

func addConnFlags(cmd *cobra.Command, defaultType string) {
	cmd.Flags().StringVarP(&connType, "type", "t", defaultType, "connection type")
	cmd.Flags().StringVarP(&connAddr, "addr", "a", "", "remote address: 0x1234 or 0013A200.40A1B2C3")
	cmd.Flags().StringVar(&connEP, "ep", "", "endpoint pair local:remote in hex, e.g. E8:E8")
}

func init() {
	addConnFlags(listenCmd, "Data")
	listenCmd.Flags().StringVar(&recordPath, "record", "", "also write packets to this capture file")
	listenCmd.Flags().BoolVar(&catchAll, "catch-all", false, "receive frames no other connection matches")
	rootCmd.AddCommand(listenCmd)
}
