package ethereum

import (
	"context"
	"math/big"

	"kelvin-core/pkg/cache"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/errno"
)

const maxGasPriceGwei = 10000

var (
	gwei      = currency.Unit{Decimals: gweiDecimals}
	feeTiers  = []int64{100, 125, 150} // percent of the suggested gas price
	minGasWei = big.NewInt(1_000_000_000)
	maxGasWei = new(big.Int).Mul(big.NewInt(maxGasPriceGwei), minGasWei)
)

func (c *Currency) FeeUnit() (string, error) {
	return "Gwei", nil
}

func (c *Currency) IsValidFeeOption(network, feeOpt string) (bool, error) {
	if _, err := c.network(network); err != nil {
		return false, err
	}
	_, err := parseGasPrice(feeOpt)
	return err == nil, nil
}

// parseGasPrice converts a Gwei fee option to wei. Prices below 1 Gwei are
// ErrUnfulfillable, malformed or excessive ones ErrInvalidFee.
func parseGasPrice(feeOpt string) (*big.Int, error) {
	wei, err := gwei.ToBase(feeOpt)
	if err != nil {
		return nil, errno.ErrInvalidFee.New("%q is not a gas price in Gwei", feeOpt)
	}
	if wei.Cmp(maxGasWei) > 0 {
		return nil, errno.ErrInvalidFee.New("gas price %s Gwei is above %d Gwei", feeOpt, maxGasPriceGwei)
	}
	if wei.Cmp(minGasWei) < 0 {
		return nil, errno.ErrUnfulfillable.New("gas price %s Gwei is below the 1 Gwei minimum", feeOpt)
	}
	return wei, nil
}

// FeeOptions returns gas prices in Gwei, low to high.
func (c *Currency) FeeOptions(ctx context.Context, network string) ([]string, error) {
	n, err := c.network(network)
	if err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, c.opts.Cache, "eth:fees:"+n.Name, c.opts.CacheTTL, func(ctx context.Context) ([]string, error) {
		var suggested *big.Int
		err := c.call(ctx, n, "fees", func(ctx context.Context, b Backend) error {
			p, err := b.SuggestGasPrice(ctx)
			if err != nil {
				return errno.ErrNetwork.Wrap(err, "suggest gas price")
			}
			suggested = p
			return nil
		})
		if err != nil {
			return nil, err
		}
		if suggested.Cmp(minGasWei) < 0 {
			suggested = minGasWei
		}
		opts := make([]string, 0, len(feeTiers))
		for _, pct := range feeTiers {
			p := new(big.Int).Mul(suggested, big.NewInt(pct))
			p.Div(p, big.NewInt(100))
			if p.Cmp(maxGasWei) > 0 {
				p = maxGasWei
			}
			opt := gwei.FromBase(p)
			if len(opts) > 0 && opts[len(opts)-1] == opt {
				continue
			}
			opts = append(opts, opt)
		}
		return opts, nil
	})
}

// gasPrice resolves the request fee option, defaulting to the middle tier.
func (c *Currency) gasPrice(ctx context.Context, network, feeOpt string) (*big.Int, error) {
	if feeOpt == "" {
		opts, err := c.FeeOptions(ctx, network)
		if err != nil {
			return nil, err
		}
		feeOpt = opts[len(opts)/2]
	}
	return parseGasPrice(feeOpt)
}
