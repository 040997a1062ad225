// Package serial opens the serial link to the motor MCU.
package serial

import (
	"io"
	"time"

	"go.bug.st/serial"
)

func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}

// Open opens a port with the 8N1 framing the MCU firmware speaks. The read
// timeout keeps a dead link from blocking the RPC client forever.
func Open(port string, baud int) (io.ReadWriteCloser, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(500 * time.Millisecond); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}
