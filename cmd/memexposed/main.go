package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/memexpose"
	"github.com/outofforest/memexpose/monitor"
	"github.com/outofforest/parallel"
)

const defaultMonitorAddr = "localhost:7070"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logger.New(logger.DefaultConfig)
	ctx = logger.WithLogger(ctx, log)

	if err := rootCmd().ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Command failed", zap.Error(err))
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "memexposed",
		Short:         "Exposes memory and interrupts to the peer process",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var monitorAddr string
	cmd.PersistentFlags().StringVar(&monitorAddr, "monitor", defaultMonitorAddr, "Address of the monitor")

	cmd.AddCommand(
		runCmd(),
		statusCmd(&monitorAddr),
		readCmd(&monitorAddr),
		writeCmd(&monitorAddr),
		interruptCmd(&monitorAddr),
		receiveCmd(&monitorAddr),
	)
	return cmd
}

func runCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := memexpose.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), config)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "memexpose.yaml", "Path to the config file")
	return cmd
}

func run(ctx context.Context, config memexpose.Config) error {
	device, err := memexpose.NewDevice(ctx, config)
	if err != nil {
		return err
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("device", parallel.Fail, device.Run)
		if config.Monitor.Listen != "" {
			ls, err := net.Listen("tcp", config.Monitor.Listen)
			if err != nil {
				return errors.WithStack(err)
			}
			spawn("monitor", parallel.Fail, func(ctx context.Context) error {
				return monitor.RunServer(ctx, ls, monitor.Config{
					MaxMessageSize: config.Monitor.MaxMessageSize,
				}, device)
			})
		}
		return nil
	})
}

func statusCmd(monitorAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Prints the status of the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := monitor.Status(cmd.Context(), *monitorAddr, monitorConfig())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mem:    %s\n", status.MemState)
			fmt.Fprintf(out, "intr:   %s\n", status.IntrState)
			fmt.Fprintf(out, "signal: %d\n", status.Signal)
			for _, c := range status.Counters {
				fmt.Fprintf(out, "%s: %d\n", c.Name, c.Value)
			}
			return nil
		},
	}
}

func readCmd(monitorAddr *string) *cobra.Command {
	var address uint64
	var size uint
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Reads from the memory window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := monitor.Read(cmd.Context(), *monitorAddr, monitorConfig(), address, size)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "0x%x\n", v)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&address, "address", 0, "Address in the window")
	cmd.Flags().UintVar(&size, "size", 8, "Number of bytes to read (1-8)")
	return cmd
}

func writeCmd(monitorAddr *string) *cobra.Command {
	var address, value uint64
	var size uint
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Writes to the memory window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return monitor.Write(cmd.Context(), *monitorAddr, monitorConfig(), address, size, value)
		},
	}
	cmd.Flags().Uint64Var(&address, "address", 0, "Address in the window")
	cmd.Flags().UintVar(&size, "size", 8, "Number of bytes to write (1-8)")
	cmd.Flags().Uint64Var(&value, "value", 0, "Value to write")
	return cmd
}

func interruptCmd(monitorAddr *string) *cobra.Command {
	var intrType uint64
	var data string
	cmd := &cobra.Command{
		Use:   "interrupt",
		Short: "Sends interrupt to the peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := hex.DecodeString(data)
			if err != nil {
				return errors.Wrap(err, "invalid interrupt data")
			}
			return monitor.Interrupt(cmd.Context(), *monitorAddr, monitorConfig(), intrType, payload)
		},
	}
	cmd.Flags().Uint64Var(&intrType, "type", 0, "Type of the interrupt")
	cmd.Flags().StringVar(&data, "data", "", "Hex-encoded payload of the interrupt")
	return cmd
}

func receiveCmd(monitorAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "receive",
		Short: "Pops interrupt received from the peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			intrType, data, ok, err := monitor.Receive(cmd.Context(), *monitorAddr, monitorConfig())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no interrupt")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "type: 0x%x\ndata: %s\n", intrType, hex.EncodeToString(data))
			return nil
		},
	}
}

func monitorConfig() monitor.Config {
	return monitor.Config{
		MaxMessageSize: memexpose.DefaultMonitorMaxMessageSize,
	}
}
