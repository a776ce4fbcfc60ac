package webrtc

import (
	"strings"
	"sync"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	msgChannelOpen   = "data channel connected"
	msgChannelClosed = "data channel disconnected"
)

type dataChannelManager struct {
	mu      sync.Mutex
	channel ports.DataChannel
	wired   bool
	open    bool

	transcript domain.Transcript
	clock      utils.Clock
	onMessage  func(domain.ChatMessage)
	logger     *zap.SugaredLogger
}

// NewDataChannelManager keeps the chat transcript for one call. onMessage,
// when set, sees every appended message and must not block.
func NewDataChannelManager(clock utils.Clock, onMessage func(domain.ChatMessage), logger *zap.SugaredLogger) ports.DataChannelManager {
	if clock == nil {
		clock = utils.RealClock()
	}
	return &dataChannelManager{
		clock:     clock,
		onMessage: onMessage,
		logger:    logger,
	}
}

func (m *dataChannelManager) Setup(ch ports.DataChannel) {
	m.mu.Lock()
	if m.wired {
		m.mu.Unlock()
		return
	}
	m.wired = true
	m.channel = ch
	m.open = false
	m.mu.Unlock()

	ch.OnOpen(func() { m.opened(ch) })
	ch.OnClose(func() { m.closed(ch) })
	ch.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString || !m.current(ch) {
			return
		}
		m.append(string(msg.Data), domain.DirectionRemote)
	})

	if ch.ReadyState() == webrtc.DataChannelStateOpen {
		m.opened(ch)
	}

	m.logger.Debugw("Data channel wired", "label", ch.Label())
}

func (m *dataChannelManager) current(ch ports.DataChannel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel == ch
}

func (m *dataChannelManager) opened(ch ports.DataChannel) {
	m.mu.Lock()
	if m.channel != ch || m.open {
		m.mu.Unlock()
		return
	}
	m.open = true
	m.mu.Unlock()

	m.append(msgChannelOpen, domain.DirectionSystem)
}

func (m *dataChannelManager) closed(ch ports.DataChannel) {
	m.mu.Lock()
	if m.channel != ch {
		m.mu.Unlock()
		return
	}
	wasOpen := m.open
	m.open = false
	// a closed channel may be replaced by the next negotiation round
	m.wired = false
	m.mu.Unlock()

	if wasOpen {
		m.append(msgChannelClosed, domain.DirectionSystem)
	}
}

func (m *dataChannelManager) append(text string, dir domain.Direction) {
	msg := domain.ChatMessage{Text: text, Direction: dir, Timestamp: m.clock.Now()}
	m.transcript.Append(msg)
	if m.onMessage != nil {
		m.onMessage(msg)
	}
}

func (m *dataChannelManager) Send(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()

	if ch == nil || ch.ReadyState() != webrtc.DataChannelStateOpen {
		return false
	}
	if err := ch.SendText(text); err != nil {
		m.logger.Warnw("Chat send failed", "error", err)
		return false
	}

	m.append(text, domain.DirectionSelf)
	return true
}

func (m *dataChannelManager) Messages() []domain.ChatMessage {
	return m.transcript.Messages()
}

func (m *dataChannelManager) Detach() {
	m.mu.Lock()
	ch := m.channel
	m.channel = nil
	m.wired = false
	m.open = false
	m.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			m.logger.Debugw("Data channel close failed", "error", err)
		}
	}
}

func (m *dataChannelManager) Cleanup() {
	m.Detach()
	m.transcript.Clear()
}
