package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skalibog/aitrade/internal/engine"
	"github.com/skalibog/aitrade/pkg/logger"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub рассылает снимки состояния всем подключенным websocket-клиентам
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	last      []byte
	lock      sync.Mutex
	send      func(conn *websocket.Conn, message []byte) error
}

// NewHub создает хаб
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 16),
		send:      write,
	}
}

// Run рассылает сообщения до отмены контекста, затем закрывает соединения
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.lock.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.lock.Unlock()
			return
		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// deliver пишет сообщение клиентам вне блокировки хаба
func (h *Hub) deliver(message []byte) {
	h.lock.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.lock.Unlock()

	for _, client := range clients {
		if err := h.send(client, message); err != nil {
			logger.Debug("Клиент телеметрии отключен", zap.Error(err))
			client.Close()
			h.lock.Lock()
			delete(h.clients, client)
			h.lock.Unlock()
		}
	}
}

// Publish сериализует снимок и ставит его в очередь рассылки.
// При переполненной очереди снимок отбрасывается.
func (h *Hub) Publish(snapshot engine.Snapshot) {
	message, err := json.Marshal(snapshot)
	if err != nil {
		logger.Error("Ошибка сериализации снимка", zap.Error(err))
		return
	}

	h.lock.Lock()
	h.last = message
	h.lock.Unlock()

	select {
	case h.broadcast <- message:
	default:
		logger.Warn("Очередь телеметрии переполнена, снимок пропущен")
	}
}

// Clients число подключенных клиентов
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// ServeHTTP подключает websocket-клиента и отправляет ему последний снимок
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Ошибка установки websocket-соединения", zap.Error(err))
		return
	}

	h.lock.Lock()
	last := h.last
	h.lock.Unlock()

	if last != nil {
		if err := h.send(conn, last); err != nil {
			conn.Close()
			return
		}
	}

	h.lock.Lock()
	h.clients[conn] = true
	h.lock.Unlock()
}

// Serve запускает HTTP-сервер телеметрии до отмены контекста
func Serve(ctx context.Context, hub *Hub, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Ошибка остановки сервера телеметрии", zap.Error(err))
		}
	}()

	logger.Info("Сервер телеметрии запущен", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func write(conn *websocket.Conn, message []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, message)
}
