package domain

import "testing"

func TestDecideTransition(t *testing.T) {
	tests := []struct {
		name     string
		transfer Transfer
		target   Status
		want     TransitionDecision
	}{
		{
			name:     "pending to completed",
			transfer: Transfer{Provider: ProviderStripe, Direction: DirectionInbound, Status: StatusPending},
			target:   StatusCompleted,
			want:     DecisionApply,
		},
		{
			name:     "pending to failed",
			transfer: Transfer{Provider: ProviderStripe, Direction: DirectionInbound, Status: StatusPending},
			target:   StatusFailed,
			want:     DecisionApply,
		},
		{
			name:     "same status replay",
			transfer: Transfer{Provider: ProviderPayPal, Direction: DirectionInbound, Status: StatusCompleted},
			target:   StatusCompleted,
			want:     DecisionNoop,
		},
		{
			name:     "first terminal status wins",
			transfer: Transfer{Provider: ProviderStripe, Direction: DirectionInbound, Status: StatusFailed},
			target:   StatusCompleted,
			want:     DecisionAnomaly,
		},
		{
			name:     "cancelled cannot revert to pending",
			transfer: Transfer{Provider: ProviderBTCPay, Direction: DirectionOutbound, Status: StatusCancelled},
			target:   StatusPending,
			want:     DecisionAnomaly,
		},
		{
			name:     "processing cannot go back to pending",
			transfer: Transfer{Provider: ProviderBTCPay, Direction: DirectionOutbound, Status: StatusProcessing},
			target:   StatusPending,
			want:     DecisionAnomaly,
		},
		{
			name:     "payout completion before execution is deferred",
			transfer: Transfer{Provider: ProviderBTCPay, Direction: DirectionOutbound, Status: StatusPending},
			target:   StatusCompleted,
			want:     DecisionDefer,
		},
		{
			name:     "payout processing report before execution is deferred",
			transfer: Transfer{Provider: ProviderBTCPay, Direction: DirectionOutbound, Status: StatusPending},
			target:   StatusProcessing,
			want:     DecisionDefer,
		},
		{
			name:     "executed payout completes",
			transfer: Transfer{Provider: ProviderBTCPay, Direction: DirectionOutbound, Status: StatusProcessing},
			target:   StatusCompleted,
			want:     DecisionApply,
		},
		{
			name:     "inbound btcpay invoice settles from pending",
			transfer: Transfer{Provider: ProviderBTCPay, Direction: DirectionInbound, Status: StatusPending},
			target:   StatusCompleted,
			want:     DecisionApply,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecideTransition(&tt.transfer, tt.target)
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestTerminalStatusesHaveNoOutgoingEdges(t *testing.T) {
	all := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Fatalf("terminal status %s must not transition to %s", from, to)
			}
		}
	}
}
