package desk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dmdesk/internal/bus"
	"dmdesk/internal/domain"
	"dmdesk/internal/gateway"
)

// ConnectResult is the outcome of an account connection attempt. Checkpoint
// means a two-factor code must be submitted with the same AccountID.
type ConnectResult struct {
	Checkpoint bool
	AccountID  string
}

// Connect runs the gateway login handshake, submitting code when a
// checkpoint is raised and one was provided. The whole handshake is bounded
// by the auth timeout; running out yields gateway.ErrTimeout.
func (s *Service) Connect(ctx context.Context, username, password, code string) (ConnectResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.authTimeout)
	defer cancel()

	res, err := s.gateway.Authenticate(ctx, username, password)
	if err != nil {
		return ConnectResult{}, s.authError(ctx, err)
	}
	s.logger.Info("auth response", "status", res.Status, "checkpoint", res.Checkpoint)

	if res.NeedsCheckpoint() {
		if code == "" {
			return ConnectResult{Checkpoint: true, AccountID: res.AccountID}, nil
		}
		accountID := res.AccountID
		res, err = s.gateway.SolveCheckpoint(ctx, accountID, code)
		if err != nil {
			return ConnectResult{}, s.authError(ctx, err)
		}
		if res.AccountID == "" {
			res.AccountID = accountID
		}
		s.logger.Info("checkpoint response", "status", res.Status)
	}

	if !res.Succeeded() {
		msg := res.Message
		if msg == "" {
			msg = "Auth failed"
		}
		return ConnectResult{}, &gateway.Error{Kind: gateway.KindAuth, Status: res.Status, Message: msg}
	}

	if err := s.session.Connect(ctx, res.AccountID); err != nil {
		return ConnectResult{}, fmt.Errorf("connect: %w", err)
	}
	s.emit(bus.EventSessionConnected, map[string]any{"account_id": res.AccountID})
	return ConnectResult{AccountID: res.AccountID}, nil
}

func (s *Service) authError(ctx context.Context, err error) error {
	if errors.Is(err, gateway.ErrTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.logger.Warn("auth timed out", "timeout", s.authTimeout)
		return fmt.Errorf("connect: %w", gateway.ErrTimeout)
	}
	return fmt.Errorf("connect: %w", err)
}

// Logout disconnects the session account at the gateway and forgets it
// locally. A gateway rejection keeps the local session.
func (s *Service) Logout(ctx context.Context) error {
	accountID := s.session.AccountID()
	if accountID == "" {
		return fmt.Errorf("logout: %w", domain.ErrNotConnected)
	}
	if err := s.gateway.DeleteAccount(ctx, accountID); err != nil {
		return err
	}
	s.session.Disconnect(ctx)
	s.emit(bus.EventSessionClosed, map[string]any{"account_id": accountID})
	return nil
}

// SessionStatus reports the connected account id, or "" when disconnected.
func (s *Service) SessionStatus() (accountID string, connected bool) {
	accountID = s.session.AccountID()
	return accountID, accountID != ""
}

// FetchMessages proxies the gateway's message listing for the session account.
func (s *Service) FetchMessages(ctx context.Context) (json.RawMessage, error) {
	accountID := s.session.AccountID()
	if accountID == "" {
		return nil, domain.ErrNotConnected
	}
	return s.gateway.ListMessages(ctx, accountID)
}
