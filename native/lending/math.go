package lending

import "math/big"

const secondsPerYear = 31_536_000

var (
	wad     = mustBigInt("1000000000000000000")
	ray     = mustBigInt("1000000000000000000000000000") // 1e27 precision
	halfRay = new(big.Int).Rsh(ray, 1)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	product.Quo(product, ray)
	return product
}

func ratToRay(r *big.Rat) *big.Int {
	if r == nil {
		return new(big.Int).Set(ray)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	num := scaled.Num()
	den := scaled.Denom()
	if den.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	result := new(big.Int).Quo(new(big.Int).Add(num, halfUp(den)), den)
	if result.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	return result
}

// periodRate is rate * delta / secondsPerYear.
func periodRate(rate *big.Rat, delta uint64) *big.Rat {
	perPeriod := new(big.Rat).Set(rate)
	perPeriod.Quo(perPeriod, new(big.Rat).SetUint64(secondsPerYear))
	return perPeriod.Mul(perPeriod, new(big.Rat).SetUint64(delta))
}

// rateFactor returns 1 + rate*delta/year in ray.
func rateFactor(rate *big.Rat, delta uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || delta == 0 {
		return new(big.Int).Set(ray)
	}
	factor := new(big.Rat).Add(big.NewRat(1, 1), periodRate(rate, delta))
	return ratToRay(factor)
}

// computeInterest returns totalBorrowed * rate * delta / year rounded half up.
func computeInterest(totalBorrowed *big.Int, rate *big.Rat, delta uint64) *big.Int {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 || rate == nil || rate.Sign() == 0 || delta == 0 {
		return big.NewInt(0)
	}
	interest := new(big.Rat).Mul(periodRate(rate, delta), new(big.Rat).SetInt(totalBorrowed))
	if interest.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := interest.Num()
	den := interest.Denom()
	return new(big.Int).Quo(new(big.Int).Add(num, halfUp(den)), den)
}

func mulDivDown(a, b, c *big.Int) *big.Int {
	if c == nil || c.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, c)
}

func mulDivUp(a, b, c *big.Int) *big.Int {
	if c == nil || c.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	quotient, remainder := new(big.Int).QuoRem(product, c, new(big.Int))
	if remainder.Sign() > 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	return quotient
}

// halfUp returns floor(x/2); adding it to a numerator before dividing by x
// rounds the quotient half up.
func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Rsh(x, 1)
}
