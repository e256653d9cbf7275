package bitcoin

import (
	"context"
	"math"
	"strconv"

	"kelvin-core/pkg/cache"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/errno"
)

const (
	minFeeRate = 1000     // sat/kB
	maxFeeRate = 10000000 // sat/kB
)

// confirmation targets in blocks, slow to fast
var feeTargets = []string{"144", "6", "2"}

var baseUnit = currency.Unit{}

func (c *Currency) FeeUnit() (string, error) {
	return "sat/kB", nil
}

func (c *Currency) IsValidFeeOption(network, feeOpt string) (bool, error) {
	if _, err := c.network(network); err != nil {
		return false, err
	}
	_, err := parseFeeRate(feeOpt)
	return err == nil, nil
}

// parseFeeRate: 低于 minFeeRate 的整数为 ErrUnfulfillable, 其余非法值为 ErrInvalidFee
func parseFeeRate(feeOpt string) (int64, error) {
	invalid := errno.ErrInvalidFee.New("%q is not a fee rate between %d and %d sat/kB", feeOpt, minFeeRate, maxFeeRate)
	if !baseUnit.IsValidBase(feeOpt) {
		return 0, invalid
	}
	v, err := strconv.ParseInt(feeOpt, 10, 64)
	if err != nil || v > maxFeeRate {
		return 0, invalid
	}
	if v < minFeeRate {
		return 0, errno.ErrUnfulfillable.New("fee rate %d sat/kB is below the %d sat/kB relay minimum", v, minFeeRate)
	}
	return v, nil
}

// FeeOptions converts Esplora's sat/vB estimates into sat/kB, slow to fast.
func (c *Currency) FeeOptions(ctx context.Context, network string) ([]string, error) {
	n, err := c.network(network)
	if err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, c.opts.Cache, c.name+":fees:"+n.Name, c.opts.CacheTTL, func(ctx context.Context) ([]string, error) {
		var estimates map[string]float64
		if err := c.get(ctx, n, "fees", "/fee-estimates", &estimates); err != nil {
			return nil, err
		}
		var opts []string
		last := int64(0)
		for _, target := range feeTargets {
			rate := int64(math.Ceil(estimates[target] * 1000))
			if rate < minFeeRate {
				rate = minFeeRate
			}
			if rate > maxFeeRate {
				rate = maxFeeRate
			}
			if rate == last {
				continue
			}
			last = rate
			opts = append(opts, strconv.FormatInt(rate, 10))
		}
		return opts, nil
	})
}

func (c *Currency) feeRate(ctx context.Context, network, feeOpt string) (int64, error) {
	if feeOpt == "" {
		opts, err := c.FeeOptions(ctx, network)
		if err != nil {
			return 0, err
		}
		feeOpt = opts[len(opts)/2]
	}
	return parseFeeRate(feeOpt)
}
