package servers

import (
	"context"
	"time"

	"github.com/rumblefrog/go-a2s"
)

type Status struct {
	Address    string
	Name       string
	Map        string
	Players    int
	MaxPlayers int
}

type Querier interface {
	Query(ctx context.Context, address string) (Status, error)
}

// A2SQuerier reads server occupancy over the Source A2S_INFO query.
type A2SQuerier struct {
	Timeout time.Duration
}

func (q A2SQuerier) Query(ctx context.Context, address string) (Status, error) {
	timeout := q.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	client, err := a2s.NewClient(address, a2s.TimeoutOption(timeout))
	if err != nil {
		return Status{}, err
	}
	defer client.Close()

	info, err := client.QueryInfo()
	if err != nil {
		return Status{}, err
	}
	return Status{
		Address:    address,
		Name:       info.Name,
		Map:        info.Map,
		Players:    int(info.Players),
		MaxPlayers: int(info.MaxPlayers),
	}, nil
}
