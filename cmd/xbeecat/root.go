package main

import (
	"errors"
	"fmt"
	stdnet "net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lcx/xbee/config"
	"github.com/lcx/xbee/log"
	"github.com/lcx/xbee/metrics"
	"github.com/lcx/xbee/net"
	"github.com/lcx/xbee/utils"
)

var (
	// link flags
	serialDevice string
	serialBaud   int
	tcpAddr      string
	modeName     string
	cfgDir       string

	verbosity   int
	metricsAddr string

	metricsSrv *http.Server
)

var rootCmd = &cobra.Command{
	Use:   "xbeecat",
	Short: "Talk to an XBee radio in API mode",
	Long: `xbeecat opens a serial port or a TCP serial bridge in front of an XBee
radio running API firmware. It can print or record inbound packets, send
data to a remote node and issue AT commands to the local radio.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetVerbosity(verbosity)
		if metricsAddr == "" {
			return nil
		}
		if _, err := metrics.Setup(&metrics.Cfg{Sink: metrics.SinkPrometheus, ServiceName: "xbeecat"}); err != nil {
			return fmt.Errorf("failed to set up metrics: %w", err)
		}
		ln, err := stdnet.Listen("tcp", metricsAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", metricsAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if metricsSrv != nil {
			return metricsSrv.Close()
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&serialDevice, "serial", "", "serial device the radio is attached to")
	pf.IntVar(&serialBaud, "baud", 9600, "serial baud rate")
	pf.StringVar(&tcpAddr, "tcp", "", "host:port of a TCP serial bridge, instead of --serial")
	pf.StringVarP(&modeName, "mode", "m", "xbee1", "radio mode: "+strings.Join(net.ModeNames(), ", "))
	pf.StringVar(&cfgDir, "config", "", "directory holding engine.yaml, serial.yaml or tcp_transport.yaml; overrides the link flags")
	pf.IntVarP(&verbosity, "verbose", "v", 0, "log verbosity, -1 disables logging")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// openEngine opens an engine from --config, or from the link flags.
func openEngine() (*net.Engine, error) {
	if cfgDir != "" {
		cm := config.NewConfigManager()
		cm.SetBasePath(cfgDir)
		return net.OpenWithConfigManager(cm, net.WithMode(modeName))
	}

	var (
		transport net.ByteTransport
		err       error
	)
	switch {
	case tcpAddr != "":
		transport, err = net.NewTCPTransportWithConfig(&net.TCPTransportCfg{Addr: tcpAddr})
	case serialDevice != "":
		transport, err = net.NewSerialTransport(&net.SerialCfg{Device: serialDevice, Baud: serialBaud})
	default:
		return nil, errors.New("one of --serial, --tcp or --config is required")
	}
	if err != nil {
		return nil, err
	}
	cfg := net.DefaultEngineCfg()
	cfg.Mode = modeName
	return net.Open(cfg, transport)
}

// parseAddress accepts "", a 16-bit address ("0x1234") or a 64-bit address
// ("0013A200.40A1B2C3"). ep is an optional "local:remote" endpoint pair in hex.
func parseAddress(s, ep string) (net.Address, error) {
	var addr net.Address
	hex := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	switch {
	case s == "":
	case len(hex) <= 4 && !strings.ContainsAny(s, ". "):
		v, err := utils.ParseShortAddr(s)
		if err != nil {
			return addr, err
		}
		addr = net.ShortAddr(v)
	default:
		v, err := utils.ParseLongAddr(s)
		if err != nil {
			return addr, err
		}
		addr = net.LongAddr(v)
	}
	if ep == "" {
		return addr, nil
	}
	local, remote, ok := strings.Cut(ep, ":")
	if !ok {
		return addr, fmt.Errorf("endpoints %q: want local:remote", ep)
	}
	l, err := parseByte(local)
	if err != nil {
		return addr, err
	}
	r, err := parseByte(remote)
	if err != nil {
		return addr, err
	}
	return addr.WithEndpoints(l, r), nil
}

func parseByte(s string) (byte, error) {
	v, err := utils.ParseShortAddr(s)
	if err != nil || v > 0xFF {
		return 0, fmt.Errorf("%q is not a hex byte", s)
	}
	return byte(v), nil
}
