// Package sender delivers outbound replies to the channel gateway. Delivery
// is fire-and-forget from the engine's point of view: a slow or failing
// gateway never stalls a session-state transition.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"OmniDesk/entity"
	"OmniDesk/internal/config"
	"OmniDesk/internal/lib/sl"
)

type Service struct {
	apiKey  string
	baseUrl string
	queue   chan entity.SendRequest
	client  *http.Client
	log     *slog.Logger
}

func NewService(conf *config.Config, logger *slog.Logger) *Service {
	size := conf.Sender.QueueSize
	if size <= 0 {
		size = 256
	}
	return &Service{
		apiKey:  conf.Sender.ApiKey,
		baseUrl: conf.Sender.BaseUrl,
		queue:   make(chan entity.SendRequest, size),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     logger.With(sl.Module("sender service")),
	}
}

// Enqueue hands a delivery order to the worker without ever blocking the
// caller. A saturated queue drops the message and logs it; state-machine
// correctness does not depend on delivery.
func (s *Service) Enqueue(req entity.SendRequest) {
	select {
	case s.queue <- req:
	default:
		s.log.Warn("send queue full, dropping outbound message",
			slog.String("channel", string(req.Channel)),
			slog.String("peer_id", req.PeerID),
		)
	}
}

// Start runs the delivery worker until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.queue:
			if err := s.send(req); err != nil {
				s.log.With(
					slog.String("channel", string(req.Channel)),
					slog.String("peer_id", req.PeerID),
					sl.Err(err),
				).Error("outbound delivery failed")
			}
		}
	}
}

type gatewayRequest struct {
	Channel   string `json:"channel"`
	PeerID    string `json:"peer_id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	MediaURL  string `json:"media_url,omitempty"`
	Watermark int64  `json:"watermark"`
}

func (s *Service) send(req entity.SendRequest) error {
	defer func() {
		if r := recover(); r != nil {
			s.log.With(slog.Any("panic", r)).Error("send outbound msg")
		}
	}()

	if s.baseUrl == "" {
		s.log.Debug("sender gateway not configured, skipping",
			slog.String("peer_id", req.PeerID))
		return nil
	}

	url := fmt.Sprintf("%s/tenants/%s/send", s.baseUrl, req.TenantID)

	msgType := "text"
	if req.MediaURL != "" {
		msgType = "media"
	}
	body := gatewayRequest{
		Channel:   string(req.Channel),
		PeerID:    req.PeerID,
		Type:      msgType,
		Content:   req.Text,
		MediaURL:  req.MediaURL,
		Watermark: time.Now().UnixMilli(),
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal send body: %w", err)
	}

	sendReq, err := http.NewRequest("POST", url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create POST request: %w", err)
	}
	sendReq.Header.Set("Content-Type", "application/json")
	sendReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	sendResp, err := s.client.Do(sendReq)
	if err != nil {
		return fmt.Errorf("send POST HTTP: %w", err)
	}
	defer sendResp.Body.Close()

	if sendResp.StatusCode < 200 || sendResp.StatusCode >= 300 {
		return fmt.Errorf("gateway responded with %d", sendResp.StatusCode)
	}

	s.log.With(
		slog.String("channel", string(req.Channel)),
		slog.String("peer_id", req.PeerID),
	).Info("message sent")
	return nil
}
