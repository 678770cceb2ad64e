package staking

import "github.com/holiman/uint256"

// Fixed-point math for the exponential weighting model.
//
// All fractional values are scaled by WAD (10^18) and carried in 256-bit
// unsigned integers. Results are deterministic: the same inputs always
// produce bit-identical outputs, which matters because they feed into
// irreversible balance transfers.

// WAD is the fixed-point scale factor: 10^18.
const WAD = uint64(1_000_000_000_000_000_000)

const (
	// ln(2) scaled by WAD: 0.693147180559945309...
	ln2Wad = uint64(693_147_180_559_945_309)

	// 1/ln(2) scaled by WAD: 1.442695040888963407...
	invLn2Wad = uint64(1_442_695_040_888_963_407)

	// e scaled by WAD: 2.718281828459045235...
	eWad = uint64(2_718_281_828_459_045_235)

	// maxExpShift bounds the integer part of x/ln2 inside ExpWad.
	maxExpShift = 127
)

var (
	wad = uint256.NewInt(WAD)

	// maxExpInput is the hard ceiling on ExpWad inputs: 87 WAD. Callers that
	// derive the input from elapsed time must check the ratio against this
	// bound and force a rebase before it is exceeded.
	maxExpInput = uint256.MustFromDecimal("87000000000000000000")

	// expNegZeroThreshold is the input at which WAD * e^-x rounds below one:
	// e^-42 * 10^18 < 1, so ExpNegWad short-circuits to exactly zero there
	// instead of risking an overflow inside ExpWad.
	expNegZeroThreshold = uint256.MustFromDecimal("42000000000000000000")

	// rebaseThreshold flags the pool aggregate as unsafe once it passes half
	// of the 256-bit range, leaving headroom for the WAD-scaled
	// multiplications that read it.
	rebaseThreshold = new(uint256.Int).Lsh(uint256.NewInt(1), 255)

	// Precomputed 1/n! for the Taylor expansion, scaled by WAD.
	invFactorial = [7]*uint256.Int{
		uint256.NewInt(WAD),                         // 1/0!
		uint256.NewInt(WAD),                         // 1/1!
		uint256.NewInt(500_000_000_000_000_000),     // 1/2!
		uint256.NewInt(166_666_666_666_666_667),     // 1/3!
		uint256.NewInt(41_666_666_666_666_667),      // 1/4!
		uint256.NewInt(8_333_333_333_333_333),       // 1/5!
		uint256.NewInt(1_388_888_888_888_889),       // 1/6!
	}
)

// wadMul returns a*b/WAD, erroring when the widened product overflows.
func wadMul(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrMathOverflow
	}
	return product.Div(product, wad), nil
}

// wadDiv returns a*WAD/b, erroring on b == 0 or intermediate overflow.
func wadDiv(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrMathOverflow
	}
	numerator, overflow := new(uint256.Int).MulOverflow(a, wad)
	if overflow {
		return nil, ErrMathOverflow
	}
	return numerator.Div(numerator, b), nil
}

// mulWad returns amount*WAD for a raw unit count.
func mulWad(amount uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(amount), wad)
}

// expTaylor approximates e^x for small WAD-scaled x (|x| < ln 2) with the
// series 1 + x + x^2/2! + ... + x^6/6!.
func expTaylor(x *uint256.Int) (*uint256.Int, error) {
	result := new(uint256.Int).Set(wad)
	xPow := new(uint256.Int).Set(x)
	for i := 1; i <= 6; i++ {
		term, err := wadMul(xPow, invFactorial[i])
		if err != nil {
			return nil, err
		}
		sum, overflow := result.AddOverflow(result, term)
		if overflow {
			return nil, ErrMathOverflow
		}
		result = sum
		if i < 6 {
			next, err := wadMul(xPow, x)
			if err != nil {
				return nil, err
			}
			xPow = next
		}
	}
	return result, nil
}

// ExpWad computes e^x for WAD-scaled non-negative x, WAD-scaled.
//
// Range reduction: e^x = 2^(x/ln2) = 2^n * 2^f with n the integer and f the
// fractional part; 2^f comes from the Taylor expansion of e^(f*ln2) and 2^n
// is a bit shift. Inputs above 87 WAD are rejected outright.
func ExpWad(x *uint256.Int) (*uint256.Int, error) {
	if x.IsZero() {
		return new(uint256.Int).Set(wad), nil
	}
	if x.Gt(maxExpInput) {
		return nil, ErrMathOverflow
	}

	xDivLn2, err := wadMul(x, uint256.NewInt(invLn2Wad))
	if err != nil {
		return nil, err
	}
	intPart := new(uint256.Int)
	fracPart := new(uint256.Int)
	intPart.DivMod(xDivLn2, wad, fracPart)

	fLn2, err := wadMul(fracPart, uint256.NewInt(ln2Wad))
	if err != nil {
		return nil, err
	}
	twoPowFrac, err := expTaylor(fLn2)
	if err != nil {
		return nil, err
	}

	shift := intPart.Uint64()
	if shift > maxExpShift {
		return nil, ErrMathOverflow
	}
	twoPowInt := new(uint256.Int).Lsh(wad, uint(shift))
	return wadMul(twoPowInt, twoPowFrac)
}

// ExpNegWad computes e^-x for WAD-scaled x, WAD-scaled. Inputs at or above
// the zero threshold return exactly 0: the true value is below the precision
// floor of the WAD representation.
func ExpNegWad(x *uint256.Int) (*uint256.Int, error) {
	if x.IsZero() {
		return new(uint256.Int).Set(wad), nil
	}
	if !x.Lt(expNegZeroThreshold) {
		return new(uint256.Int), nil
	}
	expX, err := ExpWad(x)
	if err != nil {
		return nil, err
	}
	return wadDiv(wad, expX)
}

// timeRatioWad converts elapsed seconds over tau into a WAD-scaled exponent.
// Non-positive elapsed time clamps to zero.
func timeRatioWad(elapsed int64, tauSeconds uint64) (*uint256.Int, error) {
	if tauSeconds == 0 {
		return nil, ErrInvalidTau
	}
	if elapsed <= 0 {
		return new(uint256.Int), nil
	}
	ratio, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(uint64(elapsed)), wad)
	if overflow {
		return nil, ErrMathOverflow
	}
	return ratio.Div(ratio, uint256.NewInt(tauSeconds)), nil
}

// expTimeRatio computes e^(elapsed/tau), WAD-scaled.
func expTimeRatio(elapsed int64, tauSeconds uint64) (*uint256.Int, error) {
	ratio, err := timeRatioWad(elapsed, tauSeconds)
	if err != nil {
		return nil, err
	}
	if ratio.IsZero() {
		return new(uint256.Int).Set(wad), nil
	}
	return ExpWad(ratio)
}

// expNegTimeRatio computes e^(-elapsed/tau), WAD-scaled.
func expNegTimeRatio(elapsed int64, tauSeconds uint64) (*uint256.Int, error) {
	ratio, err := timeRatioWad(elapsed, tauSeconds)
	if err != nil {
		return nil, err
	}
	if ratio.IsZero() {
		return new(uint256.Int).Set(wad), nil
	}
	return ExpNegWad(ratio)
}
