// Package bridge speaks a length-prefixed framing over TCP to a process that
// owns the physical USB device (or to the simulator served by kelvin-cli).
//
//	request:  id(2) | len(4) | payload
//	response: status(2) | len(4) | payload
package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"kelvin-core/pkg/device"
	"kelvin-core/pkg/logger"
)

const maxFrame = 1 << 20

// Handler answers a single device command.
type Handler interface {
	Handle(id uint16, payload []byte) (status uint16, resp []byte)
}

type conn struct {
	c       net.Conn
	timeout time.Duration
}

// Opener dials addr for every exchange.
func Opener(addr string, timeout time.Duration) device.Opener {
	return func(ctx context.Context) (device.Transport, error) {
		d := net.Dialer{Timeout: timeout}
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return &conn{c: c, timeout: timeout}, nil
	}
}

func (c *conn) Send(id uint16, payload []byte) (uint16, []byte, error) {
	if c.timeout > 0 {
		_ = c.c.SetDeadline(time.Now().Add(c.timeout))
	}
	if err := writeFrame(c.c, id, payload); err != nil {
		return 0, nil, err
	}
	return readFrame(c.c)
}

func (c *conn) Close() error {
	return c.c.Close()
}

func writeFrame(w io.Writer, head uint16, payload []byte) error {
	if len(payload) > maxFrame {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}
	buf := make([]byte, 6+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], head)
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(payload)))
	copy(buf[6:], payload)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (uint16, []byte, error) {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[2:6])
	if n > maxFrame {
		return 0, nil, fmt.Errorf("frame too large: %d bytes", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return binary.BigEndian.Uint16(hdr[0:2]), payload, nil
}

// Serve accepts connections until ctx is cancelled. Commands are handled one
// at a time, mirroring a single physical device.
func Serve(ctx context.Context, ln net.Listener, h Handler) error {
	var mu sync.Mutex

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		go func() {
			defer c.Close()
			for {
				id, payload, err := readFrame(c)
				if err != nil {
					if !errors.Is(err, io.EOF) {
						logger.Debug("bridge read failed", zap.Error(err))
					}
					return
				}
				mu.Lock()
				status, resp := h.Handle(id, payload)
				mu.Unlock()
				if err := writeFrame(c, status, resp); err != nil {
					logger.Debug("bridge write failed", zap.Error(err))
					return
				}
			}
		}()
	}
}
