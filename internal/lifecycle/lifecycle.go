// Package lifecycle defines the commercial state machine of a premium project.
// All transitions are externally invoked; nothing here fires on a timer.
package lifecycle

import "fmt"

const (
	StatusElaborado           = "elaborado"
	StatusEmNegociacao        = "em_negociacao"
	StatusPerdido             = "perdido"
	StatusAguardandoPagamento = "aguardando_pagamento"
	StatusAtivo               = "ativo"
	StatusInadimplente        = "inadimplente"
	StatusCancelado           = "cancelado"
	StatusConcluido           = "concluido"
)

var transitions = map[string][]string{
	StatusElaborado:           {StatusEmNegociacao},
	StatusEmNegociacao:        {StatusPerdido, StatusAguardandoPagamento},
	StatusAguardandoPagamento: {StatusAtivo, StatusCancelado},
	StatusAtivo:               {StatusInadimplente, StatusCancelado, StatusConcluido},
	StatusInadimplente:        {StatusAtivo, StatusCancelado},
	StatusPerdido:             {},
	StatusCancelado:           {},
	StatusConcluido:           {},
}

// InvalidTransitionError rejects a pair not present in the transition table.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid project status transition %s -> %s", e.From, e.To)
}

// Known reports whether a status exists in the table at all.
func Known(status string) bool {
	_, ok := transitions[status]
	return ok
}

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	targets, ok := transitions[status]
	return ok && len(targets) == 0
}

// EnsureTransition validates from -> to against the table.
func EnsureTransition(from, to string) error {
	for _, target := range transitions[from] {
		if target == to {
			return nil
		}
	}
	return InvalidTransitionError{From: from, To: to}
}

// Targets returns the allowed next statuses, nil for terminal or unknown ones.
func Targets(from string) []string {
	targets := transitions[from]
	if len(targets) == 0 {
		return nil
	}
	out := make([]string, len(targets))
	copy(out, targets)
	return out
}
