// Package alpha computes rolling-window and cross-sectional statistics over
// one-dimensional float64 series.
//
// Every computation runs against a Context, which carries two settings:
//
//   - a Policy that decides how windows are built (partial windows allowed,
//     full windows required, or missing values skipped)
//   - a group count G that splits a flat series into G equal, contiguous
//     partitions processed independently (e.g. concatenated per-instrument
//     histories)
//
// A missing observation is an IEEE NaN. Use IsMissing to test for it; NaN
// never compares equal to itself.
//
// # Usage
//
// With an explicit Context value:
//
//	ctx, _ := alpha.NewContext(alpha.PolicyRequireFullWindow, 2)
//	ma, _ := ctx.MovingAverage(closes, 20)
//	slope, intercept, _ := ctx.Regression(closes, 10)
//
// With the process-wide active Context:
//
//	alpha.Configure(alpha.FlagSkipMissing, 1)
//	ma, _ := alpha.MovingAverage(closes, 3)
//
// The package-level functions take one snapshot of the active Context per
// call, so Configure never affects a computation already in flight.
//
// # Indicators
//
//   - MovingAverage: arithmetic mean of each window
//   - Slope, Intercept: ordinary least squares of y against x = 0..n-1
//   - PercentileRank: average rank within the whole partition, divided by n
//   - TsRank: average rank of the current value within its rolling window
//   - ForwardReturn: (close[i+delay+periods-1] - open[i+delay]) / open[i+delay]
package alpha
