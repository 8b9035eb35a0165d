// Package model defines shared data types used across ctpbridge.
//
// Conventions:
//   - Prices: shopspring decimal.Decimal, never float64
//   - Volumes: int64 lots
//   - Timestamps: int64 microseconds since Unix epoch
//   - IDs: string for instruments and order refs
package model
