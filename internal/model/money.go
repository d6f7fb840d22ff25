package model

import (
	"math"
	"strings"
)

// Валюты без дробных единиц: сумма передаётся провайдеру как есть.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {},
	"krw": {}, "mga": {}, "pyg": {}, "rwf": {}, "ugx": {}, "vnd": {},
	"vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

func minorFactor(currency string) float64 {
	if _, ok := zeroDecimalCurrencies[strings.ToLower(currency)]; ok {
		return 1
	}
	return 100
}

// MinorUnits переводит сумму в минимальные единицы валюты (центы) с округлением.
func MinorUnits(amount float64, currency string) int64 {
	return int64(math.Round(amount * minorFactor(currency)))
}

// MajorUnits переводит сумму из минимальных единиц валюты в основные.
func MajorUnits(minor int64, currency string) float64 {
	return float64(minor) / minorFactor(currency)
}
