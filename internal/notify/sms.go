package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrSMSRejected = errors.New("sms gateway rejected message")

// HTTPSMSSender talks to the web-service SMS gateway: one GET per message,
// success reported as {"data":[{"status":"OK"}]}.
type HTTPSMSSender struct {
	baseURL string
	user    string
	token   string
	prefix  string
	client  *http.Client
	now     func() time.Time
}

func NewHTTPSMSSender(baseURL, user, token, prefix string) *HTTPSMSSender {
	return &HTTPSMSSender{
		baseURL: baseURL,
		user:    user,
		token:   token,
		prefix:  prefix,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
}

type smsGatewayResponse struct {
	Data []struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"data"`
}

func (s *HTTPSMSSender) SendSMS(ctx context.Context, to, body string) error {
	number := normalizePhone(to, s.prefix)
	if number == "" || body == "" {
		return fmt.Errorf("%w: sms not sent: empty number or body", ErrPermanent)
	}

	q := url.Values{}
	q.Set("app", "ws")
	q.Set("u", s.user)
	q.Set("h", s.token)
	q.Set("op", "pv")
	q.Set("to", number)
	q.Set("msg", truncateSMS(body))
	q.Set("schedule", s.now().Format("2006-01-02 15:04:05"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("call sms gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read sms gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: http %d: %s", ErrSMSRejected, resp.StatusCode, raw)
		if permanentStatus(resp.StatusCode) {
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		}
		return err
	}

	var parsed smsGatewayResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("%w: unparseable response: %s", ErrSMSRejected, raw)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].Status != "OK" {
		return fmt.Errorf("%w: %s", ErrSMSRejected, raw)
	}
	return nil
}

// permanentStatus reports whether the gateway refused the request itself.
// Throttling, timeouts and server errors are worth retrying; the JSON status
// also covers transient conditions such as exhausted credit, so it is never
// treated as permanent.
func permanentStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return code >= 400 && code < 500
}

func normalizePhone(raw, prefix string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return ""
	}
	return prefix + digits
}
