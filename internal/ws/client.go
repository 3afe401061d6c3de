package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrame     = 1 << 20 // 1MB
	maxInitFrame = 4 << 10 // 握手帧只含 token 与设备号
	sendBuffer   = 256
)

var (
	errClientClosed = errors.New("client closed")
	errSendOverflow = errors.New("send buffer full")
)

// Client 持有一个已升级的 socket。Send 只负责入队，数据帧只由 writePump 写出。
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// newClient 在认证前就限制读取大小，未认证的握手帧不能超过 maxInitFrame。
func newClient(conn *websocket.Conn) *Client {
	conn.SetReadLimit(maxInitFrame)
	return &Client{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
}

// Send 实现 hub.Conn。已关闭或缓冲已满时返回错误，调用方按离线处理。
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return errSendOverflow
	}
}

// Close 可重复调用。
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}

// closeWith 先发送带 code 的关闭帧再关闭连接。
func (c *Client) closeWith(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.Close()
}

// keepAlive 在认证后放宽读取上限，并设置由 pong 延长的读超时。
func (c *Client) keepAlive() {
	c.conn.SetReadLimit(maxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Client) read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *Client) writePump() error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return errClientClosed
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
