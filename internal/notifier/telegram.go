package notifier

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type TelegramNotifier struct {
	Token  string
	ChatID string
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{Token: token, ChatID: chatID}
}

func (t *TelegramNotifier) Send(message string) error {
	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.Token)
	resp, err := http.PostForm(apiURL, url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

// SendWithRetry retries Send a few times with backoff before giving up.
// Notifications are best-effort; the caller decides whether the final error
// matters.
func (t *TelegramNotifier) SendWithRetry(message string) error {
	delay := time.Second
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = t.Send(message); err == nil {
			return nil
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}
