package extract

import (
	"reflect"

	"github.com/okapilabs/wirekit/rawhttp"
)

// State is a shared value installed on the server's base context with
// rawhttp.WithState. A missing value is a wiring mistake and maps to
// 500.
type State[T any] struct {
	Value T
}

func (s *State[T]) FromRequest(r *rawhttp.Request) error {
	v, ok := rawhttp.StateFrom[T](r.Context())
	if !ok {
		return &Error{Status: 500, Msg: "no shared state of type " + reflect.TypeOf((*T)(nil)).Elem().String()}
	}
	s.Value = v
	return nil
}
