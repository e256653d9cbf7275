package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/logger"
	"kelvin-core/pkg/monitor"
)

// Command 发送给签名设备的指令
type Command struct {
	ID      uint16
	Payload []byte
}

// Response 签名设备的应答
type Response struct {
	Payload []byte
}

// Transport 是到签名设备的一条连接 (USB bridge / simulator)。
// 每次 Exchange 只调用一次 Send，随后立即 Close。
type Transport interface {
	Send(id uint16, payload []byte) (status uint16, resp []byte, err error)
	Close() error
}

// Opener 打开一条新的 Transport
type Opener func(ctx context.Context) (Transport, error)

// StatusError 表示设备返回了非零状态码
type StatusError struct {
	Status uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device returned status code 0x%04x", e.Status)
}

func (e *StatusError) Is(target error) bool {
	return target == errno.ErrDevice
}

// Exchange 打开设备、发送一条指令并关闭设备。
// 无论成功与否都会调用 Close。
func Exchange(ctx context.Context, open Opener, cmd Command) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, errno.ErrDevice.Wrap(err, "exchange aborted")
	}

	start := time.Now()
	t, err := open(ctx)
	if err != nil {
		monitor.ObserveDeviceExchange(cmd.ID, "open_failed", time.Since(start))
		return Response{}, errno.ErrDevice.Wrap(err, "open device")
	}
	defer func() {
		if cerr := t.Close(); cerr != nil {
			logger.Warn("关闭设备失败", zap.Error(cerr))
		}
	}()

	status, payload, err := t.Send(cmd.ID, cmd.Payload)
	if err != nil {
		monitor.ObserveDeviceExchange(cmd.ID, "send_failed", time.Since(start))
		return Response{}, errno.ErrDevice.Wrap(err, "send command 0x%04x", cmd.ID)
	}

	logger.Debug("device exchange",
		zap.Uint16("command", cmd.ID),
		zap.Int("request_bytes", len(cmd.Payload)),
		zap.Uint16("status", status),
		zap.Int("response_bytes", len(payload)))

	if status != 0 {
		monitor.ObserveDeviceExchange(cmd.ID, fmt.Sprintf("0x%04x", status), time.Since(start))
		return Response{}, &StatusError{Status: status}
	}
	monitor.ObserveDeviceExchange(cmd.ID, "ok", time.Since(start))
	return Response{Payload: payload}, nil
}

// Session 串行化对同一台物理设备的访问
type Session struct {
	mu   sync.Mutex
	open Opener
}

func NewSession(open Opener) *Session {
	return &Session{open: open}
}

// Exchange 同一时刻只允许一条指令在途
func (s *Session) Exchange(ctx context.Context, cmd Command) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Exchange(ctx, s.open, cmd)
}
