package mocks

//go:generate mockgen -destination=./mock_provider.go -package=mocks github.com/rxtech-lab/stockpipe/pkg/marketdata/provider Provider
