/*
Package comm provides the transport used to talk to pivot hardware.

Devices are reached over TCP (e.g. through a terminal server) or directly
over RS232.  Connections are opened with Dial, which retries with an
exponential backoff, and are shared through a Pool.  Messages are ASCII and
terminated by a carriage return in both directions:

	pool := comm.NewPool(1, 30*time.Second, func() (io.ReadWriteCloser, error) {
		return comm.Dial(comm.Config{Addr: "192.168.100.123:2006"})
	})
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	defer pool.Put(conn)
	resp, err := comm.SendRecv(conn, []byte("POS?"))
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

const (
	// Terminator ends every message sent to and received from a device
	Terminator = byte('\r')

	// DefaultTimeout is used for connect, read and write when Config.Timeout is zero
	DefaultTimeout = 3 * time.Second

	// DefaultBaud is used for serial connections when Config.Baud is zero
	DefaultBaud = 9600
)

var (
	// ErrNoAddr is generated when Dial is called without an address
	ErrNoAddr = errors.New("no address given for device")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Config describes how to reach a device
type Config struct {
	// Addr is a host:port for TCP, or a device path such as /dev/ttyS4 for serial
	Addr string

	// Serial selects RS232 (true) or TCP (false)
	Serial bool

	// Baud is the serial baud rate
	Baud int

	// Timeout bounds the connect, read and write of a TCP connection,
	// and the read of a serial one
	Timeout time.Duration
}

// Dial opens a connection to the device described by cfg.  Failures are
// retried with an exponential backoff for up to three seconds.
func Dial(cfg Config) (io.ReadWriteCloser, error) {
	if cfg.Addr == "" {
		return nil, ErrNoAddr
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	var conn io.ReadWriteCloser
	op := func() error {
		var err error
		conn, err = open(cfg)
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("connecting to %s failed (%v), retrying in %v", cfg.Addr, err, wait)
	}
	err := backoff.RetryNotify(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}, notify)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Addr, err)
	}
	return conn, nil
}

func open(cfg Config) (io.ReadWriteCloser, error) {
	if cfg.Serial {
		baud := cfg.Baud
		if baud == 0 {
			baud = DefaultBaud
		}
		return serial.OpenPort(&serial.Config{Name: cfg.Addr, Baud: baud, ReadTimeout: cfg.Timeout})
	}
	return TCPSetup(cfg.Addr, cfg.Timeout)
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// Send writes b to the device followed by the terminator
func Send(w io.Writer, b []byte) error {
	msg := make([]byte, 0, len(b)+1)
	msg = append(msg, b...)
	msg = append(msg, Terminator)
	_, err := w.Write(msg)
	return err
}

// Recv reads one message from the device and strips the terminator
func Recv(r io.Reader) ([]byte, error) {
	buf, err := bufio.NewReader(r).ReadBytes(Terminator)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	return bytes.TrimSuffix(buf, []byte{Terminator}), nil
}

// SendRecv sends b and returns the reply
func SendRecv(rw io.ReadWriter, b []byte) ([]byte, error) {
	if err := Send(rw, b); err != nil {
		return nil, err
	}
	return Recv(rw)
}
