package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/agentdeck/agentdeck/internal/logger"
)

// PushService fans notifications out to the browser push subscriptions
// registered by the UI. All delivery errors are logged and swallowed; the
// engine never depends on push succeeding.
type PushService struct {
	path            string
	vapidPublicKey  string
	vapidPrivateKey string
	subscriber      string

	mu            sync.RWMutex
	subscriptions []webpush.Subscription
}

type pushPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// NewPushService loads stored subscriptions from stateDir/push.json
func NewPushService(stateDir, vapidPublicKey, vapidPrivateKey, subscriber string) (*PushService, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	s := &PushService{
		path:            filepath.Join(stateDir, "push.json"),
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subscriber:      subscriber,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PushService) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read push subscriptions: %w", err)
	}
	if err := json.Unmarshal(data, &s.subscriptions); err != nil {
		return fmt.Errorf("failed to unmarshal push subscriptions: %w", err)
	}
	return nil
}

func (s *PushService) saveLocked() {
	data, err := json.MarshalIndent(s.subscriptions, "", "  ")
	if err != nil {
		logger.Warnf("failed to marshal push subscriptions: %v", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		logger.Warnf("failed to write push subscriptions: %v", err)
	}
}

// VAPIDPublicKey returns the key the browser needs to subscribe
func (s *PushService) VAPIDPublicKey() string {
	return s.vapidPublicKey
}

// Subscribe stores a browser push subscription. Re-subscribing the same
// endpoint replaces the old entry.
func (s *PushService) Subscribe(sub webpush.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.subscriptions {
		if existing.Endpoint == sub.Endpoint {
			s.subscriptions[i] = sub
			s.saveLocked()
			return
		}
	}
	s.subscriptions = append(s.subscriptions, sub)
	s.saveLocked()
}

// SendPushNotification delivers a notification to every subscription,
// pruning the ones whose endpoints are gone
func (s *PushService) SendPushNotification(title, body string, data map[string]string) {
	if s.vapidPublicKey == "" || s.vapidPrivateKey == "" {
		logger.Debug("push notification skipped: VAPID keys not configured")
		return
	}

	payload, err := json.Marshal(pushPayload{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Warnf("failed to marshal push payload: %v", err)
		return
	}

	s.mu.RLock()
	subs := make([]webpush.Subscription, len(s.subscriptions))
	copy(subs, s.subscriptions)
	s.mu.RUnlock()

	var stale []string
	for i := range subs {
		resp, err := webpush.SendNotification(payload, &subs[i], &webpush.Options{
			Subscriber:      s.subscriber,
			VAPIDPublicKey:  s.vapidPublicKey,
			VAPIDPrivateKey: s.vapidPrivateKey,
			TTL:             60,
		})
		if err != nil {
			logger.Warnf("push notification failed: %v", err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			stale = append(stale, subs[i].Endpoint)
		}
		_ = resp.Body.Close()
	}

	if len(stale) > 0 {
		s.mu.Lock()
		kept := s.subscriptions[:0]
		for _, sub := range s.subscriptions {
			prune := false
			for _, endpoint := range stale {
				if sub.Endpoint == endpoint {
					prune = true
					break
				}
			}
			if !prune {
				kept = append(kept, sub)
			}
		}
		s.subscriptions = kept
		s.saveLocked()
		s.mu.Unlock()
		logger.Infof("pruned %d stale push subscriptions", len(stale))
	}
}
