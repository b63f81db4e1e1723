package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"shpdata/internal/trace"
)

var flagUartBaudrate int

var uartCmd = &cobra.Command{
	Use:   "uart <file>",
	Short: "Decode UART traffic from the GPIO log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := trace.Open(args[0], trace.WithLogger(log))
		if err != nil {
			return err
		}
		defer r.Close()

		bytes, err := r.GpioToUart(flagUartBaudrate)
		if err != nil {
			return err
		}
		if len(bytes) == 0 {
			fmt.Println("no UART traffic found")
			return nil
		}

		// Group decoded bytes into lines, stamped with the start of each.
		var b strings.Builder
		lineStart := bytes[0].TimeNs
		for _, by := range bytes {
			if b.Len() == 0 {
				lineStart = by.TimeNs
			}
			if by.Value == '\n' {
				fmt.Printf("[%12.6f] %s\n", float64(lineStart)*1e-9, b.String())
				b.Reset()
				continue
			}
			if by.Value != '\r' {
				b.WriteByte(by.Value)
			}
		}
		if b.Len() > 0 {
			fmt.Printf("[%12.6f] %s\n", float64(lineStart)*1e-9, b.String())
		}
		return nil
	},
}

func init() {
	uartCmd.Flags().IntVar(&flagUartBaudrate, "baudrate", 0, "baudrate (0 = auto-detect)")
	rootCmd.AddCommand(uartCmd)
}
