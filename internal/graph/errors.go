package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ChuLiYu/ptides-os/internal/actor"
)

var (
	ErrInvalidGraph = errors.New("invalid actor graph")
	ErrCycleFound   = errors.New("cycle detected")
	// ErrDelayOrder model delay 小於 bounded delay，無法保證可排程
	ErrDelayOrder = errors.New("model delay smaller than bounded delay")
	// ErrUnknownKind is the actor package sentinel, re-exported so callers
	// can match graph errors without importing actor.
	ErrUnknownKind = actor.ErrUnknownKind
)

// GraphError 圖建構期間的驗證失敗，全部都是致命的設定錯誤
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphError{Kind: ErrCycleFound, Msg: msg}
}
