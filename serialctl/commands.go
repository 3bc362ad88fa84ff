package serialctl

import (
	"fmt"
	"strings"
)

// Omit marks an optional numeric parameter that is not sent.
const Omit = -1

// SPI transfer on one of the chip selects.
type SPI struct {
	CS     int
	Mode   int
	Length int
	// Speed in Hz, Omit to keep the current clock.
	Speed int
	// Data is sent as raw bytes instead of the command.
	Data []byte
}

func (s SPI) Command() (string, error) {
	if err := inRange("CS", s.CS, 0, 3); err != nil {
		return "", err
	}
	if err := inRange("MODE", s.Mode, 0, 3); err != nil {
		return "", err
	}
	if err := inRange("LEN", s.Length, 0, 255); err != nil {
		return "", err
	}
	parts := []string{fmt.Sprintf("SPI CS=%d MODE=%d LEN=%d", s.CS, s.Mode, s.Length)}
	if s.Speed != Omit {
		if s.Speed <= 0 {
			return "", fmt.Errorf("invalid SPEED %d", s.Speed)
		}
		parts = append(parts, fmt.Sprintf("SPEED=%d", s.Speed))
	}
	return strings.Join(parts, " "), nil
}

// I2C transfer with a 7 bit address.
type I2C struct {
	Address     int
	Speed       int
	WriteLength int
	// WriteData is sent as hex text, empty to omit.
	WriteData  string
	ReadLength int
}

func (i I2C) Command() (string, error) {
	if err := inRange("ADDR", i.Address, 0, 127); err != nil {
		return "", err
	}
	parts := []string{fmt.Sprintf("I2C ADDR=%d", i.Address)}
	if i.Speed != Omit {
		if i.Speed <= 0 {
			return "", fmt.Errorf("invalid SPEED %d", i.Speed)
		}
		parts = append(parts, fmt.Sprintf("SPEED=%d", i.Speed))
	}
	if i.WriteLength != Omit {
		if err := inRange("WLEN", i.WriteLength, 0, 8); err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("WLEN=%d", i.WriteLength))
	}
	if i.WriteData != "" {
		parts = append(parts, "WDATA="+i.WriteData)
	}
	if i.ReadLength != Omit {
		if err := inRange("RLEN", i.ReadLength, 0, 255); err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("RLEN=%d", i.ReadLength))
	}
	return strings.Join(parts, " "), nil
}

type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// UART setup of the board's auxiliary serial port, optionally with data to send.
type UART struct {
	Baud     int
	Bits     int
	Parity   Parity
	StopBits int
	Length   int
	// Data is sent as hex text, empty to omit.
	Data string
}

func (u UART) Command() (string, error) {
	if u.Baud <= 0 {
		return "", fmt.Errorf("invalid BAUD %d", u.Baud)
	}
	if err := inRange("BITS", u.Bits, 5, 8); err != nil {
		return "", err
	}
	if err := inRange("PARITY", int(u.Parity), int(NoParity), int(EvenParity)); err != nil {
		return "", err
	}
	if err := inRange("STOP", u.StopBits, 1, 2); err != nil {
		return "", err
	}
	parts := []string{
		fmt.Sprintf("UART BAUD=%d", u.Baud),
		fmt.Sprintf("BITS=%d", u.Bits),
		fmt.Sprintf("PARITY=%d", u.Parity),
		fmt.Sprintf("STOP=%d", u.StopBits),
	}
	if u.Length != Omit {
		if err := inRange("LEN", u.Length, 0, 8); err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("LEN=%d", u.Length))
	}
	if u.Data != "" {
		parts = append(parts, "DATA="+u.Data)
	}
	return strings.Join(parts, " "), nil
}

// PWM output with the given frequency in Hz and the duty cycle in percent.
type PWM struct {
	Frequency int
	Duty      int
}

func (p PWM) Command() (string, error) {
	if p.Frequency <= 0 {
		return "", fmt.Errorf("invalid FREQ %d", p.Frequency)
	}
	if err := inRange("DUTY", p.Duty, 0, 100); err != nil {
		return "", err
	}
	return fmt.Sprintf("PWM FREQ=%d DUTY=%d", p.Frequency, p.Duty), nil
}

// Sequence plays the stored sequence with the given index.
type Sequence struct {
	Index  int
	Repeat int
}

func (s Sequence) Command() (string, error) {
	if err := inRange("INDEX", s.Index, 0, 255); err != nil {
		return "", err
	}
	if err := inRange("REPEAT", s.Repeat, 1, 100); err != nil {
		return "", err
	}
	return fmt.Sprintf("SEQ INDEX=%d REPEAT=%d", s.Index, s.Repeat), nil
}

func inRange(name string, value, lower, upper int) error {
	if value < lower || value > upper {
		return fmt.Errorf("invalid %s %d, must be in [%d, %d]", name, value, lower, upper)
	}
	return nil
}
