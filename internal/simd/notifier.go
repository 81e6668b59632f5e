package simd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/policy"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/logger"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
)

var (
	ErrInvalidURL       = errors.New("invalid callback URL")
	ErrMetadataEndpoint = errors.New("callback URL points to a metadata endpoint")
	ErrInternalHost     = errors.New("callback URL points to an internal address")
)

// CallbackSecretHeader carries status_callback.secret on every notification
const CallbackSecretHeader = "X-Evaluator-Callback-Secret"

var metadataHosts = map[string]bool{
	"169.254.169.254":          true,
	"metadata.google.internal": true,
	"metadata":                 true,
}

// NotificationPayload is the JSON body posted to the callback URL
type NotificationPayload struct {
	Experiment string                   `json:"experiment"`
	Sequence   int                      `json:"sequence"`
	Status     *models.SimulationStatus `json:"status"`
	Timestamp  int64                    `json:"timestamp"` // When notification was sent
}

// Notifier posts batch status snapshots to a callback URL
type Notifier struct {
	httpClient *http.Client
	url        string
	secret     string
	experiment string
	retry      policy.RetryPolicy

	mu  sync.Mutex
	seq int
	wg  sync.WaitGroup
}

// NewNotifier validates callbackURL and creates a notifier. "{experiment}"
// in the URL is replaced by the experiment name. retry may be nil.
func NewNotifier(callbackURL, secret, experiment string, retry policy.RetryPolicy) (*Notifier, error) {
	if err := validateCallbackURL(callbackURL); err != nil {
		return nil, err
	}
	return &Notifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		url:        strings.ReplaceAll(callbackURL, "{experiment}", url.PathEscape(experiment)),
		secret:     secret,
		experiment: experiment,
		retry:      retry,
	}, nil
}

// Notify sends status asynchronously; it has the signature of an evaluator
// status callback.
func (n *Notifier) Notify(status *models.SimulationStatus) {
	if status == nil {
		return
	}
	n.mu.Lock()
	n.seq++
	payload := NotificationPayload{
		Experiment: n.experiment,
		Sequence:   n.seq,
		Status:     status,
		Timestamp:  time.Now().UTC().UnixMilli(),
	}
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.send(payload)
	}()
}

// Wait blocks until every pending notification was delivered or given up
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// send performs the HTTP POST with retry logic
func (n *Notifier) send(payload NotificationPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal notification payload",
			"callback_url", n.url,
			"sequence", payload.Sequence,
			"error", err)
		return
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := n.retry.GetBackoffDuration(attempt)
			logger.Debug("retrying notification",
				"callback_url", n.url,
				"sequence", payload.Sequence,
				"attempt", attempt,
				"delay", delay)
			time.Sleep(delay)
		}

		err := n.post(body)
		if err == nil {
			logger.Debug("notification sent",
				"sequence", payload.Sequence,
				"batch", payload.Status.BatchNumber)
			return
		}
		logger.Warn("notification attempt failed",
			"callback_url", n.url,
			"sequence", payload.Sequence,
			"attempt", attempt+1,
			"error", err)

		if n.retry == nil || !n.retry.ShouldRetry(attempt, err) {
			logger.Error("failed to send notification",
				"callback_url", n.url,
				"sequence", payload.Sequence,
				"attempts", attempt+1,
				"last_error", err)
			return
		}
	}
}

func (n *Notifier) post(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ensemble-evaluator/1.0")
	if n.secret != "" {
		req.Header.Set(CallbackSecretHeader, n.secret)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
}

// validateCallbackURL rejects URLs that are not http(s) or that address
// cloud metadata services or literal internal IPs. Host names are not
// resolved, so "localhost" is accepted for development.
func validateCallbackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if metadataHosts[host] {
		return fmt.Errorf("%w: %s", ErrMetadataEndpoint, host)
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return fmt.Errorf("%w: %s", ErrInternalHost, host)
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
