package venue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	wsReadDeadline        = 60 * time.Second
	wsMaxReconnectBackoff = 30 * time.Second
	wsReadLimit           = 1 << 20
)

// wireFill 成交流的 JSON 帧。字段为通用成交要素，不绑定具体场所协议。
type wireFill struct {
	OrderID string          `json:"orderId"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Fee     decimal.Decimal `json:"fee"`
	TsMs    int64           `json:"ts"`
}

// StreamFillSource 通过 WebSocket 订阅成交流并转为 FillEvent。
// 断线后指数退避重连，解析失败的帧丢弃并计数，不中断流。
type StreamFillSource struct {
	url    string
	dialer *websocket.Dialer
	out    chan FillEvent

	onError func(error) // 可选：错误上报（日志/指标）
}

// NewStreamFillSource 创建成交流客户端；onError 可为 nil。
func NewStreamFillSource(url string, onError func(error)) *StreamFillSource {
	return &StreamFillSource{
		url:     url,
		dialer:  websocket.DefaultDialer,
		out:     make(chan FillEvent, 256),
		onError: onError,
	}
}

// Fills 实现 FillSource。
func (s *StreamFillSource) Fills() <-chan FillEvent {
	return s.out
}

// Run 维持连接直到 ctx 结束。每次会话断开后按指数退避重拨。
func (s *StreamFillSource) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = wsMaxReconnectBackoff

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.report(err)
			sleep := bo.NextBackOff()
			if sleep == backoff.Stop {
				sleep = wsMaxReconnectBackoff
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
				continue
			}
		}

		bo.Reset()

		// ctx 结束时关闭连接，把阻塞中的 ReadMessage 打断
		sessionCtx, cancelSession := context.WithCancel(ctx)
		go func() {
			<-sessionCtx.Done()
			_ = conn.Close()
		}()

		err = s.readLoop(sessionCtx, conn)
		cancelSession()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.report(err)
		}
	}
}

func (s *StreamFillSource) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(wsReadLimit)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadDeadline)); err != nil {
			return err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var wf wireFill
		if err := json.Unmarshal(message, &wf); err != nil {
			s.report(err)
			continue
		}
		if wf.OrderID == "" {
			continue // 心跳或无关帧
		}

		ev := FillEvent{
			OrderID:   wf.OrderID,
			Price:     wf.Price,
			Size:      wf.Size,
			Fee:       wf.Fee,
			Timestamp: time.UnixMilli(wf.TsMs),
		}
		select {
		case s.out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *StreamFillSource) report(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}
