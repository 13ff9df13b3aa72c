package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aininja-pro/cora-voice/internal/session"
)

// Config holds the Twilio credentials the webhook surface needs.
type Config struct {
	AccountSID string
	AuthToken  string
}

// Service exposes the Twilio voice webhook and the media-stream websocket.
// Inbound calls are bridged into voice sessions the same way browser mics
// are; Twilio is just a second transport.
type Service struct {
	config  Config
	manager *session.Manager
}

func New(config Config, manager *session.Manager) *Service {
	return &Service{config: config, manager: manager}
}

func (s *Service) RegisterHandlers(e *echo.Echo) {
	e.POST("/twilio/voice", s.handleVoice, s.authMiddleware)
	e.GET("/twilio/media", s.handleMedia)
}

// handleVoice answers the call with TwiML that connects the call audio to
// our media-stream websocket.
func (s *Service) handleVoice(c echo.Context) error {
	params := c.Get("twilioParams").(map[string]string)

	callSID := params["CallSid"]
	from := params["From"]
	log.Printf("inbound call from %s, CallSid: %s", from, callSID)

	streamURL := "wss://" + requestHost(c.Request()) + "/twilio/media"
	twiml := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Say>Connected to CORA. Go ahead.</Say>
  <Connect>
    <Stream url="%s" />
  </Connect>
</Response>`, streamURL)

	return c.XMLBlob(http.StatusOK, []byte(twiml))
}

// authMiddleware validates X-Twilio-Signature over the form body and stashes
// the parsed params on the context.
func (s *Service) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.config.AuthToken == "" {
			return c.String(http.StatusInternalServerError, "Missing TWILIO_AUTH_TOKEN")
		}

		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.String(http.StatusBadRequest, "Failed to read body")
		}
		formData, err := url.ParseQuery(string(body))
		if err != nil {
			return c.String(http.StatusBadRequest, "Failed to parse form")
		}

		params := make(map[string]string)
		for key, values := range formData {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}

		signature := c.Request().Header.Get("X-Twilio-Signature")
		requestURL := buildURL(c.Request(), c.Request().URL.Path)
		if !s.validateSignature(signature, requestURL, params) {
			return c.String(http.StatusUnauthorized, "Invalid signature")
		}

		c.Set("twilioParams", params)
		return next(c)
	}
}

// validateSignature implements Twilio's HMAC-SHA1 request signing: the full
// URL concatenated with the sorted form parameters.
func (s *Service) validateSignature(signature, url string, params map[string]string) bool {
	data := url
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + params[k]
	}

	mac := hmac.New(sha1.New, []byte(s.config.AuthToken))
	mac.Write([]byte(data))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

func buildURL(r *http.Request, path string) string {
	scheme := "https"
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
		if strings.Contains(host, "localhost") || strings.Contains(host, "127.0.0.1") {
			scheme = "http"
		}
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

func requestHost(r *http.Request) string {
	if host := r.Header.Get("X-Forwarded-Host"); host != "" {
		return host
	}
	return r.Host
}
