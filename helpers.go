// FILE: helpers.go
// Package main – tiny shared helpers used across the engine files.
package main

import "github.com/shopspring/decimal"

func decFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }
