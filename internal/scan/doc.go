// Package scan decodes picoScan compact-format UDP telegrams and turns them
// into Cartesian point clouds and a smoothed 6-DoF pose estimate.
//
// The pipeline is single-threaded and pull-based: one datagram in, one
// decoded result out, routed to either the point-cloud path (extract,
// voxel-downsample, optionally transform into world frame) or the IMU path
// (bias calibration, orientation/velocity/position integration). Malformed
// input is an expected operating condition; decode failures are local to
// the offending datagram.
package scan

import "github.com/echerrman/picoscan/internal/monitoring"

func logf(format string, v ...interface{}) { monitoring.Logf(format, v...) }

func debugf(format string, v ...interface{}) { monitoring.Debugf(format, v...) }
