package player

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sendChanBuf = 256

// Packet is the notification envelope delivered to a session.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  int64           `json:"sent_at"`
}

type messagePayload struct {
	Message string `json:"message"`
}

// Session is a connected player. It satisfies account.Session.
type Session struct {
	identity uuid.UUID
	name     string
	joinedAt time.Time

	SendChan chan *Packet
	Done     chan struct{}

	mu      sync.Mutex
	lastSeq uint64
	logger  *zap.Logger
}

// NewSession creates an open session.
func NewSession(identity uuid.UUID, name string, logger *zap.Logger) *Session {
	return &Session{
		identity: identity,
		name:     name,
		joinedAt: time.Now(),
		SendChan: make(chan *Packet, sendChanBuf),
		Done:     make(chan struct{}),
		logger:   logger,
	}
}

func (s *Session) Identity() uuid.UUID { return s.identity }
func (s *Session) Name() string        { return s.name }
func (s *Session) JoinedAt() time.Time { return s.joinedAt }

// Online reports whether the session has not been closed.
func (s *Session) Online() bool { return !s.IsClosed() }

// Notify queues a chat-style message for the player.
func (s *Session) Notify(msg string) {
	payload, _ := json.Marshal(messagePayload{Message: msg})
	s.Send(&Packet{Type: "message", Payload: payload})
}

// Send queues pkt without blocking. Drops if the channel is full or the session closed.
func (s *Session) Send(pkt *Packet) {
	if s.IsClosed() {
		return
	}
	s.mu.Lock()
	s.lastSeq++
	pkt.Seq = s.lastSeq
	s.mu.Unlock()
	pkt.SentAt = time.Now().UnixMilli()

	select {
	case s.SendChan <- pkt:
	case <-s.Done:
	default:
		s.logger.Warn("send channel full, dropping packet",
			zap.String("account", s.identity.String()),
			zap.String("type", pkt.Type))
	}
}

// Poll drains up to max queued packets without blocking. max <= 0 drains everything queued.
func (s *Session) Poll(max int) []*Packet {
	var out []*Packet
	for max <= 0 || len(out) < max {
		select {
		case pkt := <-s.SendChan:
			out = append(out, pkt)
		default:
			return out
		}
	}
	return out
}

// Close marks the session offline.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.Done:
	default:
		close(s.Done)
	}
}

// IsClosed returns true if the session has been closed.
func (s *Session) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}
