package domain

import (
	"context"
	"fmt"
	"time"
)

type Mode string

const (
	// ModeBlocking: uma goroutine por requisição lógica, round trips síncronos.
	ModeBlocking Mode = "blocking"
	// ModeCooperative: tarefas passam por um loop único; tabelas em memória
	// substituem o backend para lock e rate limit.
	ModeCooperative Mode = "cooperative"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBlocking, ModeCooperative:
		return Mode(s), nil
	case "":
		return ModeBlocking, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Executor é a estratégia de execução escolhida uma única vez na inicialização.
//
// Submit executa task e espera o resultado por no máximo timeout (0 = só ctx).
// Se a espera estourar, retorna ErrTimeout e cancela o ctx da task; a task continua
// responsável pela própria limpeza.
type Executor interface {
	Mode() Mode
	Submit(ctx context.Context, timeout time.Duration, task func(ctx context.Context) error) error
}
