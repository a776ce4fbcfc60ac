package main

import (
	"fmt"
	"net/url"
	"strings"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/core/services"
	"peercall/internal/infrastructure/signal"
	"peercall/internal/infrastructure/webrtc"
	"peercall/pkg/config"
	"peercall/pkg/logger"

	"go.uber.org/zap"
)

type session struct {
	call     ports.CallService
	counter  *webrtc.PacketCounter
	shareURL func(domain.RoomID) string
	log      *zap.Logger
}

func (s *session) Close() {
	s.call.Close()
	s.log.Sync()
}

func newSession(cfg *config.Config) (*session, error) {
	zapLogger := logger.NewWithFormat(flagLogLevel, "console")
	log := zapLogger.Sugar()

	transport, err := newTransport(cfg, log)
	if err != nil {
		return nil, err
	}

	var kinds []domain.MediaKind
	if !flagNoAudio {
		kinds = append(kinds, domain.MediaAudio)
	}
	if !flagNoVideo {
		kinds = append(kinds, domain.MediaVideo)
	}
	devices := webrtc.NewSyntheticDevices(log, kinds...)
	devices.SilencePump = true

	counter := &webrtc.PacketCounter{}
	peers := webrtc.NewPeerManager(webrtc.PeerConfig{
		ICEServers: webrtc.ICEServersFromConfig(cfg.WebRTC.ICEServers),
		PacketSink: counter,
	}, devices, log)

	call := services.NewCallService(transport, peers, func(onMessage func(domain.ChatMessage)) ports.DataChannelManager {
		return webrtc.NewDataChannelManager(nil, onMessage, log)
	}, services.DefaultCallServiceConfig(), log)

	base := strings.TrimRight(flagServer, "/")
	return &session{
		call:    call,
		counter: counter,
		shareURL: func(id domain.RoomID) string {
			link, err := domain.RoomURL(base+"/video-chat", id)
			if err != nil {
				return string(id)
			}
			return link
		},
		log: zapLogger,
	}, nil
}

func newTransport(cfg *config.Config, log *zap.SugaredLogger) (ports.SignalingTransport, error) {
	if flagTransport == transportPoll {
		pc := signal.DefaultPollConfig(flagServer)
		pc.Interval = cfg.Poll.Interval
		pc.Attempts = cfg.Poll.Attempts
		return signal.NewPollTransport(pc, nil, log), nil
	}

	wsURL, err := relayURL(flagServer)
	if err != nil {
		return nil, err
	}
	pc := signal.DefaultPushConfig(wsURL)
	pc.ReconnectAttempts = cfg.Push.ReconnectAttempts
	pc.ReconnectDelay = cfg.Push.ReconnectDelay
	pc.ReconnectMaxDelay = cfg.Push.ReconnectMaxDelay
	pc.PongTimeout = cfg.Signal.PongTimeout
	pc.WriteTimeout = cfg.Signal.WriteTimeout
	return signal.NewPushTransport(pc, log), nil
}

// relayURL maps the server base URL to its websocket relay endpoint.
func relayURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
