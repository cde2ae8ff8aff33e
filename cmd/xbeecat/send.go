package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lcx/xbee/net"
	"github.com/lcx/xbee/net/modes/series1"
)

var (
	noAck     bool
	broadcast bool
	hexData   bool
	timeout   time.Duration
	queueAT   bool
)

var sendCmd = &cobra.Command{
	Use:   "send <data>",
	Short: "Send data on a connection and wait for the transmit status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(connAddr, connEP)
		if err != nil {
			return err
		}
		data := []byte(args[0])
		if hexData {
			if data, err = hex.DecodeString(args[0]); err != nil {
				return err
			}
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
		defer c.End()

		var opts []net.TxOption
		if noAck {
			opts = append(opts, net.WithoutAck())
		}
		if broadcast {
			opts = append(opts, net.WithBroadcast())
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		if err := c.Tx(ctx, data, opts...); err != nil {
			if status, ok := net.IsTxError(err); ok {
				return fmt.Errorf("radio reported status 0x%02X", status)
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "sent")
		return nil
	},
}

var atCmd = &cobra.Command{
	Use:   "at <command> [hex parameter]",
	Short: "Issue an AT command to the local radio, or a remote one with --addr",
	Example: `  xbeecat at --serial /dev/ttyUSB0 NI
  xbeecat at --serial /dev/ttyUSB0 --addr 0x0001 D0 05`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := []byte(strings.ToUpper(args[0]))
		if len(args) == 2 {
			param, err := hex.DecodeString(args[1])
			if err != nil {
				return err
			}
			req = append(req, param...)
		}
		addr, err := parseAddress(connAddr, "")
		if err != nil {
			return err
		}
		ctype := "Local AT"
		if addr.HasAddr() {
			ctype = "Remote AT"
		}

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		c, err := e.Connect(ctype, addr, nil)
		if err != nil {
			return err
		}
		defer c.End()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		if err := c.Tx(ctx, req, net.WithQueueChanges(queueAT)); err != nil {
			return err
		}
		pkt, err := c.RxWait(ctx)
		if err != nil {
			return err
		}
		defer pkt.Release()
		fmt.Fprintf(cmd.OutOrStdout(), "%s status=%d value=%X\n", pkt.ATCommand, pkt.Status, pkt.Data)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print modem status frames until interrupted or timed out",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		c, err := e.Connect("Modem Status", net.Address{}, nil)
		if err != nil {
			return err
		}
		defer c.End()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		for {
			pkt, err := c.RxWait(ctx)
			if err != nil {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), series1.ModemStatusText(pkt.Status))
			pkt.Release()
		}
	},
}

func init() {
	addConnFlags(sendCmd, "Data")
	sendCmd.Flags().BoolVar(&noAck, "no-ack", false, "do not wait for the transmit status")
	sendCmd.Flags().BoolVar(&broadcast, "broadcast", false, "send to the broadcast address")
	sendCmd.Flags().BoolVar(&hexData, "hex", false, "data argument is hex encoded")
	for _, c := range []*cobra.Command{sendCmd, atCmd, statusCmd} {
		c.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "give up after this long")
	}
	atCmd.Flags().StringVarP(&connAddr, "addr", "a", "", "remote address; omit for the local radio")
	atCmd.Flags().BoolVar(&queueAT, "queue", false, "queue the parameter change instead of applying it")
	rootCmd.AddCommand(sendCmd, atCmd, statusCmd)
}
