package health

import (
	"context"
	"errors"
)

// Pinger is implemented by stores that can probe their connection, such as
// the PostgreSQL journal.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a checker that calls p.Ping. A nil p yields a checker with no
// Check function, which [New] skips.
func Ping(name string, p Pinger) Checker {
	if p == nil {
		return Checker{Name: name}
	}
	return Checker{Name: name, Check: p.Ping}
}

// ErrEmpty is reported by [NonEmpty] when the counted collection is empty.
var ErrEmpty = errors.New("health: nothing loaded")

// NonEmpty returns a checker that fails while count returns zero. It is used
// for the contact directory, which is useless when a reload emptied it.
func NonEmpty(name string, count func() int) Checker {
	return Checker{Name: name, Check: func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if count() == 0 {
			return ErrEmpty
		}
		return nil
	}}
}
