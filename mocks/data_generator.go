package mocks

import (
	"math"
	"math/rand"
	"time"

	"github.com/rxtech-lab/stockpipe/internal/types"
)

// DataGenerator produces plausible daily provider rows for tests.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator creates a new DataGenerator with the given seed.
// Use a fixed seed for reproducible results in tests.
func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// GeneratorConfig configures how observations are generated.
type GeneratorConfig struct {
	// Ticker is the symbol stamped on every observation (e.g., "AAPL")
	Ticker string
	// StartDate is the first trading day
	StartDate time.Time
	// Days is the number of daily observations to generate
	Days int
	// InitialPrice is the first open
	InitialPrice float64
	// Volatility controls daily movement (0.01 = 1% typical daily volatility)
	Volatility float64
	// VolumeBase is the average daily share volume
	VolumeBase float64
	// VolumeVariance is the variance in volume (0.0 to 1.0)
	VolumeVariance float64
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Ticker:         "TEST",
		StartDate:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Days:           30,
		InitialPrice:   100.0,
		Volatility:     0.02,
		VolumeBase:     1_000_000,
		VolumeVariance: 0.3,
	}
}

// Generate creates daily observations following a geometric Brownian motion.
// Every bar satisfies low <= min(open, close) and high >= max(open, close), and
// volumes are whole shares, so the output passes validation unchanged.
func (g *DataGenerator) Generate(config GeneratorConfig) []types.RawObservation {
	observations := make([]types.RawObservation, config.Days)
	price := config.InitialPrice
	day := config.StartDate.UTC()

	for i := 0; i < config.Days; i++ {
		open := price

		// Box-Muller transform for a normal draw
		u1 := g.rng.Float64()
		u2 := g.rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		closePrice := open * (1 + config.Volatility*z)
		if closePrice <= 0 {
			closePrice = open * 0.99
		}

		high := math.Max(open, closePrice) + math.Abs(g.rng.Float64()*config.Volatility*open*0.5)
		low := math.Min(open, closePrice) - math.Abs(g.rng.Float64()*config.Volatility*open*0.5)
		if low <= 0 {
			low = math.Min(open, closePrice) * 0.99
		}

		volume := config.VolumeBase * (1.0 + (g.rng.Float64()*2-1)*config.VolumeVariance)
		if volume < 0 {
			volume = config.VolumeBase * 0.1
		}

		observations[i] = types.NewRawObservation(
			config.Ticker,
			day,
			roundToDecimals(open, 4),
			roundToDecimals(high, 4),
			roundToDecimals(low, 4),
			roundToDecimals(closePrice, 4),
			math.Round(volume),
		)

		price = closePrice
		day = day.AddDate(0, 0, 1)
	}

	return observations
}

// GenerateMultiTicker generates one window per ticker, concatenated in ticker order.
func (g *DataGenerator) GenerateMultiTicker(tickers []string, baseConfig GeneratorConfig) []types.RawObservation {
	var all []types.RawObservation

	for _, ticker := range tickers {
		config := baseConfig
		config.Ticker = ticker
		// vary initial price and volatility slightly per ticker
		config.InitialPrice = baseConfig.InitialPrice * (0.8 + g.rng.Float64()*0.4)
		config.Volatility = baseConfig.Volatility * (0.8 + g.rng.Float64()*0.4)

		all = append(all, g.Generate(config)...)
	}

	return all
}

// GenerateWindow returns days of reproducible observations for ticker.
func GenerateWindow(ticker string, start time.Time, days int) []types.RawObservation {
	gen := NewDataGenerator(42)
	config := DefaultConfig()
	config.Ticker = ticker
	config.StartDate = start
	config.Days = days

	return gen.Generate(config)
}

// roundToDecimals rounds a float64 to the specified number of decimal places.
func roundToDecimals(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(val*pow) / pow
}
