// Package control implements the generic device-controller pairing flow:
// a short-lived connection that waits for on-device user approval and
// persists the resulting token only when pairing succeeds. The concrete
// Samsung/LG/Roku wire protocols plug in behind the Controller interface.
package control

import (
	"context"
	"time"

	"github.com/discoveryd/engine/internal/clock"
	"github.com/discoveryd/engine/internal/logging"
	"github.com/discoveryd/engine/internal/model"
)

// approvalTimeout bounds the wait for on-device user approval.
const approvalTimeout = 30 * time.Second

// Controller is one concrete pairing protocol (treated as a black box).
type Controller interface {
	// Name labels the token row ("samsung", "lg", "lg_thinq", "roku").
	Name() string
	// Connect establishes the pairing socket.
	Connect(ctx context.Context) error
	// AwaitApproval blocks until the user approves on the device and
	// returns the credential blob, or fails/expires with an error.
	AwaitApproval(ctx context.Context) ([]byte, error)
	// Close releases the pairing socket.
	Close() error
}

// TokenStore persists credentials for paired controllers.
type TokenStore interface {
	SaveControlToken(t model.DeviceControlToken) error
}

// CommandResult is the explicit success/failure surface of user-initiated
// control actions.
type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Pairer drives the pairing state machine:
//
//	Connecting -> AwaitingApproval -> Paired | Timeout | Failed
//
// Token persistence happens only on Paired; every other terminal state
// leaves no trace.
type Pairer struct {
	tokens TokenStore
	clk    clock.Clock
	logger *logging.Logger
}

// NewPairer constructs a Pairer over the given token store.
func NewPairer(tokens TokenStore, clk clock.Clock, logger *logging.Logger) *Pairer {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pairer{tokens: tokens, clk: clk, logger: logger.WithComponent("pairing")}
}

// Pair runs the full pairing flow for endpointID against ctrl.
func (p *Pairer) Pair(ctx context.Context, endpointID int64, ctrl Controller) CommandResult {
	state := model.DeviceControlConnecting
	p.logger.Info("pairing", "controller", ctrl.Name(), "endpoint", endpointID, "state", state)

	if err := ctrl.Connect(ctx); err != nil {
		p.logger.Warn("pairing connect failed", "controller", ctrl.Name(), "error", err)
		return CommandResult{Success: false, Message: "connect failed: " + err.Error()}
	}
	defer ctrl.Close()

	state = model.DeviceControlAwaitingApproval
	p.logger.Info("pairing", "controller", ctrl.Name(), "endpoint", endpointID, "state", state)

	approvalCtx, cancel := context.WithTimeout(ctx, approvalTimeout)
	defer cancel()

	token, err := ctrl.AwaitApproval(approvalCtx)
	if err != nil {
		if approvalCtx.Err() == context.DeadlineExceeded {
			return CommandResult{Success: false, Message: "pairing timed out waiting for approval"}
		}
		return CommandResult{Success: false, Message: "pairing failed: " + err.Error()}
	}

	record := model.DeviceControlToken{
		EndpointID: endpointID,
		Controller: ctrl.Name(),
		State:      model.DeviceControlPaired,
		Token:      token,
		UpdatedAt:  p.clk.Now().UTC(),
	}
	if err := p.tokens.SaveControlToken(record); err != nil {
		return CommandResult{Success: false, Message: "token persistence failed: " + err.Error()}
	}

	p.logger.Info("pairing", "controller", ctrl.Name(), "endpoint", endpointID, "state", model.DeviceControlPaired)
	return CommandResult{Success: true}
}
