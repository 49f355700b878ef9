package services

import (
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushService(t *testing.T) {
	stateDir := t.TempDir()

	t.Run("subscriptions persist across restarts", func(t *testing.T) {
		service, err := NewPushService(stateDir, "pub", "priv", "mailto:test@example.com")
		require.NoError(t, err)
		assert.Equal(t, "pub", service.VAPIDPublicKey())

		service.Subscribe(webpush.Subscription{
			Endpoint: "https://push.example.com/abc",
			Keys:     webpush.Keys{Auth: "auth", P256dh: "p256"},
		})
		// Re-subscribing the same endpoint replaces, not duplicates
		service.Subscribe(webpush.Subscription{
			Endpoint: "https://push.example.com/abc",
			Keys:     webpush.Keys{Auth: "auth2", P256dh: "p256"},
		})

		reloaded, err := NewPushService(stateDir, "pub", "priv", "mailto:test@example.com")
		require.NoError(t, err)
		reloaded.mu.RLock()
		defer reloaded.mu.RUnlock()
		require.Len(t, reloaded.subscriptions, 1)
		assert.Equal(t, "auth2", reloaded.subscriptions[0].Keys.Auth)
	})

	t.Run("sending without VAPID keys is a no-op", func(t *testing.T) {
		service, err := NewPushService(t.TempDir(), "", "", "mailto:test@example.com")
		require.NoError(t, err)
		// Must not panic or attempt delivery
		service.SendPushNotification("title", "body", map[string]string{"sessionId": "s"})
	})
}
