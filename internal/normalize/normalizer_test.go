package normalize

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/stockpipe/internal/logger"
	"github.com/rxtech-lab/stockpipe/internal/types"
)

type NormalizerTestSuite struct {
	suite.Suite
	normalizer *Normalizer
	day        time.Time
}

func TestNormalizerSuite(t *testing.T) {
	suite.Run(t, new(NormalizerTestSuite))
}

func (suite *NormalizerTestSuite) SetupTest() {
	suite.normalizer = NewNormalizer(DefaultOptions(), logger.Nop())
	suite.day = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
}

func (suite *NormalizerTestSuite) TestRecord() {
	obs := types.NewRawObservation(" aapl ", suite.day, 179.55, 180.53, 177.38, 179.66, 73488000)

	record, defect := suite.normalizer.Record(obs)
	suite.Require().Nil(defect)

	suite.Equal("2024-03-01", record.Date)
	suite.Equal("AAPL", record.Ticker)
	suite.True(decimal.RequireFromString("179.55").Equal(record.Open))
	suite.True(decimal.RequireFromString("180.53").Equal(record.High))
	suite.True(decimal.RequireFromString("177.38").Equal(record.Low))
	suite.True(decimal.RequireFromString("179.66").Equal(record.Close))
	suite.Equal(int64(73488000), record.Volume)
}

func (suite *NormalizerTestSuite) TestPricePrecision() {
	obs := types.NewRawObservation("AAPL", suite.day, 1.23456789, 2, 1, 1.5, 10)

	record, defect := suite.normalizer.Record(obs)
	suite.Require().Nil(defect)
	suite.Equal("1.234568", record.Open.String())

	wide := NewNormalizer(Options{PricePrecision: 10}, nil)
	record, defect = wide.Record(obs)
	suite.Require().Nil(defect)
	suite.Equal("1.23456789", record.Open.String())
}

func (suite *NormalizerTestSuite) TestFractionalVolumeIsDefect() {
	obs := types.NewRawObservation("AAPL", suite.day, 10, 11, 9, 10, 1234.5)

	_, defect := suite.normalizer.Record(obs)
	suite.Require().NotNil(defect)
	suite.Equal("volume", defect.Field)
	suite.Equal(1234.5, defect.Value)
	suite.Equal("AAPL", defect.Ticker)
	suite.Equal("2024-03-01", defect.Date)
}

func (suite *NormalizerTestSuite) TestDefects() {
	testCases := []struct {
		name  string
		obs   types.RawObservation
		field string
	}{
		{
			name:  "empty ticker",
			obs:   types.NewRawObservation("  ", suite.day, 1, 1, 1, 1, 1),
			field: "ticker",
		},
		{
			name:  "ticker too long",
			obs:   types.NewRawObservation("ABCDEFGHIJK", suite.day, 1, 1, 1, 1, 1),
			field: "ticker",
		},
		{
			name:  "zero date",
			obs:   types.NewRawObservation("AAPL", time.Time{}, 1, 1, 1, 1, 1),
			field: "date",
		},
		{
			name: "incomplete",
			obs: func() types.RawObservation {
				o := types.NewRawObservation("AAPL", suite.day, 1, 1, 1, 1, 1)
				o.Low = optional.None[float64]()

				return o
			}(),
			field: "ohlcv",
		},
		{
			name:  "volume overflow",
			obs:   types.NewRawObservation("AAPL", suite.day, 1, 1, 1, 1, 1e19),
			field: "volume",
		},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			_, defect := suite.normalizer.Record(tc.obs)
			suite.Require().NotNil(defect)
			suite.Equal(tc.field, defect.Field)
		})
	}
}

func (suite *NormalizerTestSuite) TestCanonicalizeDropsDefects() {
	observations := []types.RawObservation{
		types.NewRawObservation("AAPL", suite.day, 10, 11, 9, 10, 100),
		types.NewRawObservation("AAPL", suite.day.AddDate(0, 0, 1), 10, 11, 9, 10, 100.25),
		types.NewRawObservation("AAPL", suite.day.AddDate(0, 0, 2), 10, 11, 9, 10, 300),
	}

	result := suite.normalizer.Canonicalize(observations)
	suite.Len(result.Records, 2)
	suite.Len(result.Defects, 1)
	suite.Equal("2024-03-01", result.Records[0].Date)
	suite.Equal("2024-03-03", result.Records[1].Date)
	suite.Equal("2024-03-02", result.Defects[0].Date)
}

func (suite *NormalizerTestSuite) TestCanonicalizeEmpty() {
	result := suite.normalizer.Canonicalize(nil)
	suite.Empty(result.Records)
	suite.Empty(result.Defects)
}
