package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"peercall/internal/core/domain"
	"peercall/pkg/circuitbreaker"
	"peercall/pkg/utils"

	"go.uber.org/zap"
)

// Client asks the streamed chat demo endpoint and appends the reply to a
// transcript as it arrives. Repeated transport failures or 5xx replies
// open a breaker and further asks fail fast with circuitbreaker.ErrOpen.
type Client struct {
	endpoint string
	http     *http.Client
	breaker  *circuitbreaker.Breaker
	clock    utils.Clock
	logger   *zap.SugaredLogger
}

func NewClient(baseURL string, clock utils.Clock, logger *zap.SugaredLogger) *Client {
	if clock == nil {
		clock = utils.RealClock()
	}
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(), clock)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("Assistant breaker changed state", "from", from.String(), "to", to.String())
	})
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/ai",
		http:     &http.Client{},
		breaker:  breaker,
		clock:    clock,
		logger:   logger,
	}
}

// Ask records prompt as a self message, then streams the reply into
// transcript as one remote message. onChunk, when set, sees each fragment.
func (c *Client) Ask(ctx context.Context, prompt string, transcript *domain.Transcript, onChunk func(string)) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fmt.Errorf("%w: empty prompt", domain.ErrInvalidMessage)
	}

	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var res *http.Response
	var rejected error
	err = c.breaker.Execute(ctx, func() error {
		r, err := c.http.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode != http.StatusOK {
			defer r.Body.Close()
			statusErr := statusError(r)
			if r.StatusCode < http.StatusInternalServerError {
				// the endpoint is up, the request was refused
				rejected = statusErr
				return nil
			}
			return statusErr
		}
		res = r
		return nil
	})
	if err != nil {
		return fmt.Errorf("ask assistant: %w", err)
	}
	if rejected != nil {
		return fmt.Errorf("ask assistant: %w", rejected)
	}
	defer res.Body.Close()

	transcript.Append(domain.ChatMessage{Text: prompt, Direction: domain.DirectionSelf, Timestamp: c.clock.Now()})

	emit := func(chunk string) {
		transcript.AppendChunk(domain.DirectionRemote, chunk, c.clock.Now())
		if onChunk != nil {
			onChunk(chunk)
		}
	}

	buf := make([]byte, 4096)
	var partial []byte
	for {
		n, err := res.Body.Read(buf)
		if n > 0 {
			data := append(partial, buf[:n]...)
			cut := completeRunes(data)
			if cut > 0 {
				emit(string(data[:cut]))
			}
			partial = append([]byte(nil), data[cut:]...)
		}
		if errors.Is(err, io.EOF) {
			if len(partial) > 0 {
				emit(string(partial))
			}
			return nil
		}
		if err != nil {
			c.logger.Debugw("Assistant stream interrupted", "error", err)
			return fmt.Errorf("read assistant reply: %w", err)
		}
	}
}

// completeRunes returns the length of the prefix of p that does not end in
// a truncated UTF-8 sequence.
func completeRunes(p []byte) int {
	for i := 1; i <= utf8.UTFMax && i <= len(p); i++ {
		if utf8.RuneStart(p[len(p)-i]) {
			if utf8.FullRune(p[len(p)-i:]) {
				return len(p)
			}
			return len(p) - i
		}
	}
	return len(p)
}

func statusError(res *http.Response) error {
	var fail struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(res.Body).Decode(&fail)
	return fmt.Errorf("status %d: %s", res.StatusCode, fail.Error)
}
