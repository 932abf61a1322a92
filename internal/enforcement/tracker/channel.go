package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jfcalderon/rodarpay/internal/enforcement"
)

type ChannelConfig struct {
	APIURL         string
	APIToken       string
	RequestTimeout time.Duration
}

// Channel sends hardware commands through the GPS tracker backend's REST API
// and polls command acknowledgements by id.
type Channel struct {
	httpClient *http.Client
	apiURL     string
	apiToken   string
	logger     *slog.Logger
}

func NewChannel(cfg ChannelConfig, logger *slog.Logger) *Channel {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Channel{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     cfg.APIURL,
		apiToken:   cfg.APIToken,
		logger:     logger,
	}
}

var _ enforcement.DeviceCommandChannel = (*Channel)(nil)

type sendCommandRequest struct {
	DeviceID string `json:"device_id"`
	Command  string `json:"command"`
}

type sendCommandResponse struct {
	CommandID string `json:"command_id"`
}

type commandStatusResponse struct {
	CommandID    string `json:"command_id"`
	Acknowledged bool   `json:"acknowledged"`
}

// Send issues a command to a device. The backend queues it for the next
// device heartbeat and returns the id used for acknowledgement polling.
func (c *Channel) Send(ctx context.Context, deviceID string, command enforcement.CommandType) (string, error) {
	endpoint := fmt.Sprintf("%s/devices/%s/commands", c.apiURL, url.PathEscape(deviceID))

	payload, err := json.Marshal(sendCommandRequest{DeviceID: deviceID, Command: string(command)})
	if err != nil {
		return "", fmt.Errorf("encode command request: %w", err)
	}

	var resp sendCommandResponse
	if err := c.do(ctx, http.MethodPost, endpoint, payload, &resp); err != nil {
		return "", fmt.Errorf("send %s to device %s: %w", command, deviceID, err)
	}
	if resp.CommandID == "" {
		return "", fmt.Errorf("tracker accepted command for device %s but returned no command id", deviceID)
	}

	c.logger.Info("device command sent",
		"device_id", deviceID,
		"command", string(command),
		"command_id", resp.CommandID)
	return resp.CommandID, nil
}

// Confirm reports whether the device has acknowledged the command.
func (c *Channel) Confirm(ctx context.Context, commandID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/commands/%s", c.apiURL, url.PathEscape(commandID))

	var resp commandStatusResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return false, fmt.Errorf("poll command %s: %w", commandID, err)
	}
	return resp.Acknowledged, nil
}

func (c *Channel) do(ctx context.Context, method, endpoint string, payload []byte, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("tracker request failed", "url", endpoint, "error", err)
		return fmt.Errorf("tracker request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read tracker response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Error("tracker API returned error",
			"url", endpoint,
			"status", resp.StatusCode,
			"response", string(raw))
		return fmt.Errorf("tracker API error: status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode tracker response: %w", err)
	}
	return nil
}
