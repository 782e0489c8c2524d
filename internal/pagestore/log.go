package pagestore

import "github.com/sirupsen/logrus"

// newLog returns the logger a Pack uses for commit, recovery, and vacuum
// diagnostics. A nil base falls back to the package-wide standard logger,
// mirroring how xmysql-server's logger package hands out a configured
// *logrus.Logger rather than using the global logrus functions directly.
func newLog(base *logrus.Logger) *logrus.Entry {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return base.WithField("component", "pagestore")
}
