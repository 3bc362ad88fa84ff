package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ftl/fpgascope/serialctl"
)

var serialFlags = struct {
	port string
	baud uint
	wait time.Duration

	spi      serialctl.SPI
	spiData  string
	i2c      serialctl.I2C
	uart     serialctl.UART
	parity   int
	pwm      serialctl.PWM
	sequence serialctl.Sequence
}{}

var serialCmd = &cobra.Command{
	Use:   "serial",
	Short: "send control commands to the board over the serial link",
}

var serialSendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "send a text command, the terminating semicolon is appended if missing",
	Args:  cobra.MinimumNArgs(1),
	RunE: runSerial(func(port *serialctl.Port, args []string) error {
		return port.Send(strings.Join(args, " "))
	}),
}

var serialRawCmd = &cobra.Command{
	Use:   "raw <hex>",
	Short: "send raw bytes given as hex digits",
	Args:  cobra.MinimumNArgs(1),
	RunE: runSerial(func(port *serialctl.Port, args []string) error {
		return port.SendHex(strings.Join(args, ""))
	}),
}

var serialSPICmd = &cobra.Command{
	Use:   "spi",
	Short: "run a SPI transfer, the data is sent as raw bytes if given",
	RunE: runSerial(func(port *serialctl.Port, _ []string) error {
		transfer := serialFlags.spi
		data, err := serialctl.ParseHex(serialFlags.spiData)
		if err != nil {
			return err
		}
		transfer.Data = data
		return port.SendSPI(transfer)
	}),
}

var serialI2CCmd = &cobra.Command{
	Use:   "i2c",
	Short: "run an I2C transfer",
	RunE:  runSerialCommand(func() (string, error) { return serialFlags.i2c.Command() }),
}

var serialUARTCmd = &cobra.Command{
	Use:   "uart",
	Short: "set up the auxiliary UART and send data",
	RunE: runSerialCommand(func() (string, error) {
		serialFlags.uart.Parity = serialctl.Parity(serialFlags.parity)
		return serialFlags.uart.Command()
	}),
}

var serialPWMCmd = &cobra.Command{
	Use:   "pwm",
	Short: "set up the PWM output",
	RunE:  runSerialCommand(func() (string, error) { return serialFlags.pwm.Command() }),
}

var serialSeqCmd = &cobra.Command{
	Use:   "seq",
	Short: "play a stored sequence",
	RunE:  runSerialCommand(func() (string, error) { return serialFlags.sequence.Command() }),
}

func init() {
	rootCmd.AddCommand(serialCmd)
	serialCmd.AddCommand(serialSendCmd, serialRawCmd, serialSPICmd, serialI2CCmd, serialUARTCmd, serialPWMCmd, serialSeqCmd)

	serialCmd.PersistentFlags().StringVar(&serialFlags.port, "port", "/dev/ttyUSB0", "the serial port of the board")
	serialCmd.PersistentFlags().UintVar(&serialFlags.baud, "baud", serialctl.DefaultBaudRate, "the baud rate of the serial port")
	serialCmd.PersistentFlags().DurationVar(&serialFlags.wait, "wait", 500*time.Millisecond, "the time to wait for a response")

	serialSPICmd.Flags().IntVar(&serialFlags.spi.CS, "cs", 0, "the chip select [0, 3]")
	serialSPICmd.Flags().IntVar(&serialFlags.spi.Mode, "mode", 0, "the SPI mode [0, 3]")
	serialSPICmd.Flags().IntVar(&serialFlags.spi.Length, "len", 1, "the transfer length in bytes [0, 255]")
	serialSPICmd.Flags().IntVar(&serialFlags.spi.Speed, "speed", serialctl.Omit, "the clock frequency in Hz, -1 to keep the current clock")
	serialSPICmd.Flags().StringVar(&serialFlags.spiData, "data", "", "the data to send as hex digits")

	serialI2CCmd.Flags().IntVar(&serialFlags.i2c.Address, "addr", 0, "the 7 bit address [0, 127]")
	serialI2CCmd.Flags().IntVar(&serialFlags.i2c.Speed, "speed", serialctl.Omit, "the clock frequency in Hz, -1 to omit")
	serialI2CCmd.Flags().IntVar(&serialFlags.i2c.WriteLength, "wlen", serialctl.Omit, "the number of bytes to write [0, 8], -1 to omit")
	serialI2CCmd.Flags().StringVar(&serialFlags.i2c.WriteData, "wdata", "", "the data to write as hex digits")
	serialI2CCmd.Flags().IntVar(&serialFlags.i2c.ReadLength, "rlen", serialctl.Omit, "the number of bytes to read [0, 255], -1 to omit")

	serialUARTCmd.Flags().IntVar(&serialFlags.uart.Baud, "uart-baud", 115200, "the baud rate of the auxiliary UART")
	serialUARTCmd.Flags().IntVar(&serialFlags.uart.Bits, "bits", 8, "the number of data bits [5, 8]")
	serialUARTCmd.Flags().IntVar(&serialFlags.parity, "parity", int(serialctl.NoParity), "0: none, 1: odd, 2: even")
	serialUARTCmd.Flags().IntVar(&serialFlags.uart.StopBits, "stop", 1, "the number of stop bits [1, 2]")
	serialUARTCmd.Flags().IntVar(&serialFlags.uart.Length, "len", serialctl.Omit, "the number of bytes to send [0, 8], -1 to omit")
	serialUARTCmd.Flags().StringVar(&serialFlags.uart.Data, "data", "", "the data to send as hex digits")

	serialPWMCmd.Flags().IntVar(&serialFlags.pwm.Frequency, "freq", 1000, "the PWM frequency in Hz")
	serialPWMCmd.Flags().IntVar(&serialFlags.pwm.Duty, "duty", 50, "the duty cycle in percent [0, 100]")

	serialSeqCmd.Flags().IntVar(&serialFlags.sequence.Index, "index", 0, "the index of the sequence [0, 255]")
	serialSeqCmd.Flags().IntVar(&serialFlags.sequence.Repeat, "repeat", 1, "the number of repetitions [1, 100]")
}

func runSerialCommand(build func() (string, error)) func(*cobra.Command, []string) error {
	return runSerial(func(port *serialctl.Port, _ []string) error {
		command, err := build()
		if err != nil {
			return err
		}
		return port.Send(command)
	})
}

func runSerial(send func(port *serialctl.Port, args []string) error) func(*cobra.Command, []string) error {
	return runWithCtx(func(ctx context.Context, _ *cobra.Command, args []string) error {
		port, err := serialctl.Open(serialFlags.port, serialFlags.baud)
		if err != nil {
			return err
		}
		defer port.Close()

		err = send(port, args)
		if err != nil {
			return err
		}
		log.Printf("sent to %s", port)

		return printResponse(ctx, port, serialFlags.wait)
	})
}

func printResponse(ctx context.Context, port *serialctl.Port, wait time.Duration) error {
	timeout := time.After(wait)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timeout:
			return nil
		case event, ok := <-port.Events():
			if !ok {
				return nil
			}
			switch event.Kind {
			case serialctl.DataEvent:
				fmt.Fprint(os.Stdout, string(event.Data))
			case serialctl.ErrorEvent:
				return event.Err
			}
		}
	}
}
