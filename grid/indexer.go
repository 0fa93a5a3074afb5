package grid

import "fmt"

// Config is the immutable discretization of one grid. Balances and payments
// are whole currency units; rates are fixed-point (see EncodeRate).
type Config struct {
	Balance Range
	Rate    Range
	Payment Range
}

// NewConfig validates the three ranges.
func NewConfig(balance, rate, payment Range) (Config, error) {
	dims := []struct {
		name string
		r    Range
	}{{"balance", balance}, {"rate", rate}, {"payment", payment}}
	for _, d := range dims {
		if _, err := NewRange(d.r.Min, d.r.Max, d.r.Step); err != nil {
			return Config{}, fmt.Errorf("%s range: %w", d.name, err)
		}
	}
	return Config{Balance: balance, Rate: rate, Payment: payment}, nil
}

// Position is a zero-based index into each dimension.
type Position struct {
	Balance int
	Rate    int
	Payment int
}

// Point is a grid point in store units.
type Point struct {
	Balance int64
	Rate    int64
	Payment int64
}

// Indexer flattens grid positions into ids in row-major order: balance
// outermost, rate in the middle, payment innermost.
type Indexer struct {
	cfg        Config
	nb, nr, np int
}

// NewIndexer returns an indexer for cfg.
func NewIndexer(cfg Config) (*Indexer, error) {
	cfg, err := NewConfig(cfg.Balance, cfg.Rate, cfg.Payment)
	if err != nil {
		return nil, err
	}
	return &Indexer{
		cfg: cfg,
		nb:  cfg.Balance.Steps(),
		nr:  cfg.Rate.Steps(),
		np:  cfg.Payment.Steps(),
	}, nil
}

// Config returns the discretization the indexer was built from.
func (x *Indexer) Config() Config { return x.cfg }

// Dims returns the step counts of the balance, rate and payment ranges.
func (x *Indexer) Dims() (nb, nr, np int) { return x.nb, x.nr, x.np }

// Size is the number of ids in the grid.
func (x *Indexer) Size() int64 { return int64(x.nb) * int64(x.nr) * int64(x.np) }

// Encode returns the id of a position.
func (x *Indexer) Encode(p Position) (int64, error) {
	if p.Balance < 0 || p.Balance >= x.nb || p.Rate < 0 || p.Rate >= x.nr || p.Payment < 0 || p.Payment >= x.np {
		return 0, fmt.Errorf("position %+v outside %dx%dx%d grid: %w", p, x.nb, x.nr, x.np, ErrOutOfDomain)
	}
	return x.base(p.Balance, p.Rate) + int64(p.Payment), nil
}

// Decode returns the position of an id.
func (x *Indexer) Decode(id int64) (Position, error) {
	if id < 0 || id >= x.Size() {
		return Position{}, fmt.Errorf("id %d outside [0, %d): %w", id, x.Size(), ErrOutOfDomain)
	}
	np, nr := int64(x.np), int64(x.nr)
	return Position{
		Balance: int(id / (nr * np)),
		Rate:    int((id / np) % nr),
		Payment: int(id % np),
	}, nil
}

// Locate returns the position of a point.
func (x *Indexer) Locate(pt Point) (Position, error) {
	ib, err := x.cfg.Balance.Position(pt.Balance)
	if err != nil {
		return Position{}, fmt.Errorf("balance: %w", err)
	}
	ir, err := x.cfg.Rate.Position(pt.Rate)
	if err != nil {
		return Position{}, fmt.Errorf("rate: %w", err)
	}
	ip, err := x.cfg.Payment.Position(pt.Payment)
	if err != nil {
		return Position{}, fmt.Errorf("payment: %w", err)
	}
	return Position{Balance: ib, Rate: ir, Payment: ip}, nil
}

// ID returns the id of a point.
func (x *Indexer) ID(pt Point) (int64, error) {
	pos, err := x.Locate(pt)
	if err != nil {
		return 0, err
	}
	return x.Encode(pos)
}

// Point returns the point stored under id.
func (x *Indexer) Point(id int64) (Point, error) {
	pos, err := x.Decode(id)
	if err != nil {
		return Point{}, err
	}
	return Point{
		Balance: x.cfg.Balance.Value(pos.Balance),
		Rate:    x.cfg.Rate.Value(pos.Rate),
		Payment: x.cfg.Payment.Value(pos.Payment),
	}, nil
}

// Block returns the half-open id range [start, end) holding every payment
// for one balance and rate.
func (x *Indexer) Block(balance, rate int64) (start, end int64, err error) {
	ib, err := x.cfg.Balance.Position(balance)
	if err != nil {
		return 0, 0, fmt.Errorf("balance: %w", err)
	}
	ir, err := x.cfg.Rate.Position(rate)
	if err != nil {
		return 0, 0, fmt.Errorf("rate: %w", err)
	}
	start = x.base(ib, ir)
	return start, start + int64(x.np), nil
}

// Row returns the half-open id range covering every rate and payment for
// the balance at position ib.
func (x *Indexer) Row(ib int) (start, end int64) {
	start = x.base(ib, 0)
	return start, start + int64(x.nr)*int64(x.np)
}

func (x *Indexer) base(ib, ir int) int64 {
	return int64(ib)*int64(x.nr)*int64(x.np) + int64(ir)*int64(x.np)
}
