package errs

import (
	"errors"
	"testing"

	"github.com/joomcode/errorx"
)

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		typ  *errorx.Type
		want bool
	}{
		{name: "direct", err: Script.New("syntax error"), typ: Script, want: true},
		{name: "decorated", err: errorx.Decorate(Concurrency.New("moved"), "migration 0 -> 2 stopped at 1"), typ: Concurrency, want: true},
		{name: "wrapped cause keeps outer type", err: Transition.Wrap(Script.New("x"), "y"), typ: Transition, want: true},
		{name: "other kind", err: Metadata.New("bad comment"), typ: Configuration, want: false},
		{name: "plain error", err: errors.New("boom"), typ: Script, want: false},
		{name: "nil", err: nil, typ: Script, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.typ); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}
