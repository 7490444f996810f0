package lifecycle_test

import (
	"errors"
	"testing"

	"dealflow/internal/lifecycle"
)

var allStatuses = []string{
	lifecycle.StatusElaborado,
	lifecycle.StatusEmNegociacao,
	lifecycle.StatusPerdido,
	lifecycle.StatusAguardandoPagamento,
	lifecycle.StatusAtivo,
	lifecycle.StatusInadimplente,
	lifecycle.StatusCancelado,
	lifecycle.StatusConcluido,
}

var allowed = map[string]map[string]bool{
	lifecycle.StatusElaborado:    {lifecycle.StatusEmNegociacao: true},
	lifecycle.StatusEmNegociacao: {lifecycle.StatusPerdido: true, lifecycle.StatusAguardandoPagamento: true},
	lifecycle.StatusAguardandoPagamento: {
		lifecycle.StatusAtivo: true, lifecycle.StatusCancelado: true,
	},
	lifecycle.StatusAtivo: {
		lifecycle.StatusInadimplente: true, lifecycle.StatusCancelado: true, lifecycle.StatusConcluido: true,
	},
	lifecycle.StatusInadimplente: {lifecycle.StatusAtivo: true, lifecycle.StatusCancelado: true},
}

func TestTransitionTableExhaustive(t *testing.T) {
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			err := lifecycle.EnsureTransition(from, to)
			if allowed[from][to] {
				if err != nil {
					t.Errorf("%s -> %s should be allowed: %v", from, to, err)
				}
				continue
			}
			if err == nil {
				t.Errorf("%s -> %s should be rejected", from, to)
				continue
			}
			var ite lifecycle.InvalidTransitionError
			if !errors.As(err, &ite) || ite.From != from || ite.To != to {
				t.Errorf("%s -> %s: unexpected error %v", from, to, err)
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []string{lifecycle.StatusPerdido, lifecycle.StatusCancelado, lifecycle.StatusConcluido} {
		if !lifecycle.Terminal(s) {
			t.Errorf("%s should be terminal", s)
		}
		if targets := lifecycle.Targets(s); targets != nil {
			t.Errorf("%s targets = %v, want none", s, targets)
		}
	}
	if lifecycle.Terminal(lifecycle.StatusAtivo) {
		t.Errorf("ativo is not terminal")
	}
}

func TestUnknownStatus(t *testing.T) {
	if lifecycle.Known("renegociado") {
		t.Fatalf("unexpected status accepted")
	}
	if err := lifecycle.EnsureTransition("renegociado", lifecycle.StatusAtivo); err == nil {
		t.Fatalf("transition from unknown status should fail")
	}
}
