package relay

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/reef-pi/hal"
)

// SysfsPin is a github.com/reef-pi/hal.DigitalOutputPin backed by the Linux
// sysfs GPIO interface (/sys/class/gpio), the same cgo-free access pattern
// reef-pi's own sysfs-backed drivers use. BCM numbering is passed straight
// through; BOARD numbering is translated to BCM via boardToBCM before the
// pin is exported.
type SysfsPin struct {
	number int
}

const sysfsGPIOBase = "/sys/class/gpio"

// boardToBCM maps physical header pin numbers (BOARD mode) to BCM GPIO
// numbers for the 40-pin Raspberry Pi header. Only pins wired as GPIO are
// present; power/ground pins have no entry.
var boardToBCM = map[int]int{
	3: 2, 5: 3, 7: 4, 8: 14, 10: 15, 11: 17, 12: 18, 13: 27, 15: 22, 16: 23,
	18: 24, 19: 10, 21: 9, 22: 25, 23: 11, 24: 8, 26: 7, 29: 5, 31: 6, 32: 12,
	33: 13, 35: 19, 36: 16, 37: 26, 38: 20, 40: 21,
}

// NewSysfsOutputPin exports pinNumber (interpreted per mode, "BCM" or
// "BOARD") as a sysfs GPIO output and returns a hal.DigitalOutputPin over
// it.
func NewSysfsOutputPin(pinNumber int, mode string) (hal.DigitalOutputPin, error) {
	bcm := pinNumber
	if mode == "BOARD" {
		mapped, ok := boardToBCM[pinNumber]
		if !ok {
			return nil, fmt.Errorf("gpio: no BCM mapping for BOARD pin %d", pinNumber)
		}
		bcm = mapped
	}

	if err := exportPin(bcm); err != nil {
		return nil, err
	}
	if err := setDirection(bcm, "out"); err != nil {
		return nil, err
	}
	return &SysfsPin{number: bcm}, nil
}

func exportPin(bcm int) error {
	path := filepath.Join(sysfsGPIOBase, fmt.Sprintf("gpio%d", bcm))
	if _, err := os.Stat(path); err == nil {
		return nil // already exported
	}
	f, err := os.OpenFile(filepath.Join(sysfsGPIOBase, "export"), os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("gpio: open export: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(bcm)); err != nil {
		return fmt.Errorf("gpio: export pin %d: %w", bcm, err)
	}
	return nil
}

func unexportPin(bcm int) error {
	f, err := os.OpenFile(filepath.Join(sysfsGPIOBase, "unexport"), os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("gpio: open unexport: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(strconv.Itoa(bcm))
	return err
}

func setDirection(bcm int, dir string) error {
	path := filepath.Join(sysfsGPIOBase, fmt.Sprintf("gpio%d", bcm), "direction")
	return os.WriteFile(path, []byte(dir), 0644)
}

func (p *SysfsPin) Name() string { return fmt.Sprintf("GPIO%d", p.number) }
func (p *SysfsPin) Number() int  { return p.number }

func (p *SysfsPin) Close() error {
	return unexportPin(p.number)
}

// Write sets the physical pin level: true = high, false = low.
func (p *SysfsPin) Write(high bool) error {
	path := filepath.Join(sysfsGPIOBase, fmt.Sprintf("gpio%d", p.number), "value")
	val := "0"
	if high {
		val = "1"
	}
	if err := os.WriteFile(path, []byte(val), 0644); err != nil {
		return fmt.Errorf("gpio: write pin %d: %w", p.number, err)
	}
	return nil
}
