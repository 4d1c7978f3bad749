package prober

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Pinger — проверка достижимости одного адреса. Возвращает задержку
// либо ошибку как отрицательный сигнал живости.
type Pinger interface {
	Ping(ctx context.Context, address string) (time.Duration, error)
}

// TCPPinger — эхо-проба TCP-соединением с таймаутом. Успешный dial
// (или RST от живого хоста — нам хватает успешного) считается
// достижимостью; таймаут и unreachable — нет.
type TCPPinger struct {
	Port    int
	Timeout time.Duration
}

func NewTCPPinger(port int, timeout time.Duration) *TCPPinger {
	if port == 0 {
		port = 7 // echo
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &TCPPinger{Port: port, Timeout: timeout}
}

func (p *TCPPinger) Ping(ctx context.Context, address string) (time.Duration, error) {
	d := net.Dialer{Timeout: p.Timeout}
	target := net.JoinHostPort(address, fmt.Sprint(p.Port))

	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return 0, err
	}
	_ = conn.Close()
	return time.Since(start), nil
}
