package enforcement

import (
	"context"
	"log/slog"
	"time"
)

// Protocol states. The transition function is pure; the driver owns sending,
// polling and sleeping, so the core logic tests without real delays.
type ProtocolState string

const (
	StateSent      ProtocolState = "SENT"
	StatePolling   ProtocolState = "POLLING"
	StateConfirmed ProtocolState = "CONFIRMED"
	StateExhausted ProtocolState = "EXHAUSTED"
)

// Transition advances the confirm loop after one poll. attempt is 1-based.
func Transition(state ProtocolState, confirmed bool, attempt, maxAttempts int) ProtocolState {
	switch state {
	case StateSent, StatePolling:
		if confirmed {
			return StateConfirmed
		}
		if attempt >= maxAttempts {
			return StateExhausted
		}
		return StatePolling
	default:
		return state
	}
}

// ProtocolResult reports how one command attempt ended. SendFailed means the
// command never left; the retry loop was not entered at all.
type ProtocolResult struct {
	CommandID  string
	Confirmed  bool
	Attempts   int
	SendFailed bool
	Err        error
}

// sleepFunc blocks for d or until the context is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryConfirmProtocol turns "command sent" into "command confirmed or given
// up" against any device backend. One send, then at most maxAttempts
// confirmation polls with a fixed interval between them. A transport error
// while polling counts as "not yet confirmed" and consumes an attempt.
type RetryConfirmProtocol struct {
	channel DeviceCommandChannel
	sleep   sleepFunc
	logger  *slog.Logger
}

func NewRetryConfirmProtocol(channel DeviceCommandChannel, logger *slog.Logger) *RetryConfirmProtocol {
	return &RetryConfirmProtocol{
		channel: channel,
		sleep:   realSleep,
		logger:  logger,
	}
}

// Execute runs the full send-and-confirm loop for one device command.
func (p *RetryConfirmProtocol) Execute(ctx context.Context, deviceID string, command CommandType, maxAttempts int, interval time.Duration) ProtocolResult {
	commandID, err := p.channel.Send(ctx, deviceID, command)
	if err != nil {
		p.logger.Error("device command send failed",
			"device_id", deviceID,
			"command", string(command),
			"error", err)
		return ProtocolResult{SendFailed: true, Err: err}
	}

	p.logger.Info("device command sent",
		"device_id", deviceID,
		"command", string(command),
		"command_id", commandID,
		"max_attempts", maxAttempts)

	state := StateSent
	attempts := 0
	for state == StateSent || state == StatePolling {
		attempts++

		confirmed, err := p.channel.Confirm(ctx, commandID)
		if err != nil {
			// Not yet confirmed as far as we know; still burns an attempt.
			p.logger.Warn("confirmation poll failed",
				"device_id", deviceID,
				"command_id", commandID,
				"attempt", attempts,
				"error", err)
			confirmed = false
		}

		state = Transition(state, confirmed, attempts, maxAttempts)

		if state == StatePolling {
			if err := p.sleep(ctx, interval); err != nil {
				p.logger.Warn("confirmation loop canceled",
					"device_id", deviceID,
					"command_id", commandID,
					"attempt", attempts)
				return ProtocolResult{CommandID: commandID, Attempts: attempts, Err: err}
			}
		}
	}

	if state == StateConfirmed {
		p.logger.Info("device command confirmed",
			"device_id", deviceID,
			"command_id", commandID,
			"attempts", attempts)
		return ProtocolResult{CommandID: commandID, Confirmed: true, Attempts: attempts}
	}

	p.logger.Warn("device command unconfirmed after exhausting attempts",
		"device_id", deviceID,
		"command_id", commandID,
		"attempts", attempts)
	return ProtocolResult{CommandID: commandID, Attempts: attempts}
}
